package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmwalsh/foreclosure-monitor/internal/cache"
	"github.com/jmwalsh/foreclosure-monitor/internal/classify"
	"github.com/jmwalsh/foreclosure-monitor/internal/config"
	"github.com/jmwalsh/foreclosure-monitor/internal/database"
	"github.com/jmwalsh/foreclosure-monitor/internal/diff"
	"github.com/jmwalsh/foreclosure-monitor/internal/heal"
	"github.com/jmwalsh/foreclosure-monitor/internal/monitor"
	"github.com/jmwalsh/foreclosure-monitor/pkg/logger"
)

// stubSource satisfies the scheduler without reaching any portal
type stubSource struct{}

func (stubSource) FetchCaseSnapshot(context.Context, string) (*diff.Snapshot, error) {
	return nil, errors.New("no portal in tests")
}

func setupTestRouter(t *testing.T) (*gin.Engine, *database.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	cfg := &config.Config{
		CountyName:         "Mecklenburg",
		CacheSize:          100,
		CacheTTL:           30 * time.Second,
		MonitorInterval:    time.Minute,
		ScraperTimeout:     time.Second,
		MaxConcurrentCases: 1,
		RequestsPerSecond:  1000,
	}

	log, err := logger.NewLogger("error", "json")
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}

	store := database.NewStore(db)
	policy := classify.DefaultPolicy()
	scheduler := monitor.NewScheduler(cfg, store, stubSource{}, policy, log)
	healer := heal.NewController(store, nil, nil, policy, log)
	scheduler.SetHealer(healer)
	testCache := cache.NewCache(cfg.CacheSize, cfg.CacheTTL)

	router := gin.New()
	SetupRoutes(router, db, store, testCache, scheduler, healer, log, cfg)

	return router, store
}

func TestHealthCheck(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)

	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
}

func TestRegisterCaseEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	body, _ := json.Marshal(map[string]string{"case_number": "25SP001234-910"})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/cases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	c, err := store.GetCase("25SP001234-910")
	if err != nil {
		t.Fatalf("Registered case not stored: %v", err)
	}
	if c.Status != classify.StatusUpcoming || c.County != "Mecklenburg" {
		t.Errorf("Unexpected defaults: %+v", c)
	}

	// Registering the same case twice conflicts
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/api/cases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestRegisterCaseValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/cases", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestGetCaseEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	sale := time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC)
	c := &database.Case{
		CaseNumber: "25SP001234-910",
		Status:     classify.StatusUpsetBid,
		SaleDate:   &sale,
		CurrentBid: 243000,
	}
	if err := store.CreateCase(c); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/cases/25SP001234-910", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Success     bool     `json:"success"`
		FromCache   bool     `json:"from_cache"`
		Unresolved  []string `json:"unresolved_missing_fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !response.Success || response.FromCache {
		t.Errorf("Unexpected response flags: %+v", response)
	}

	// Address, minimum bid and deadline are still missing for an active
	// upset-bid case; the API surfaces them for manual review
	want := map[string]bool{"property_address": true, "minimum_next_bid": true, "bid_deadline": true}
	if len(response.Unresolved) != len(want) {
		t.Fatalf("Expected %d unresolved fields, got %v", len(want), response.Unresolved)
	}
	for _, field := range response.Unresolved {
		if !want[field] {
			t.Errorf("Unexpected unresolved field %q", field)
		}
	}

	// Second read comes from the cache
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/cases/25SP001234-910", nil)
	router.ServeHTTP(w, req)
	json.Unmarshal(w.Body.Bytes(), &response)
	if !response.FromCache {
		t.Error("Second read should be served from cache")
	}
}

func TestGetCaseNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/cases/25SP999999-910", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestListCasesFiltering(t *testing.T) {
	router, store := setupTestRouter(t)

	for _, c := range []*database.Case{
		{CaseNumber: "25SP000001-910", Status: classify.StatusUpsetBid},
		{CaseNumber: "25SP000002-910", Status: classify.StatusClosedSold},
		{CaseNumber: "25SP000003-910", Status: classify.StatusUpsetBid},
	} {
		if err := store.CreateCase(c); err != nil {
			t.Fatal(err)
		}
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/cases?status=upset_bid", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Data       []database.Case `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Data) != 2 || response.Pagination.Total != 2 {
		t.Errorf("Expected 2 upset_bid cases, got %d (total %d)", len(response.Data), response.Pagination.Total)
	}
}

func TestReprocessEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	c := &database.Case{CaseNumber: "25SP001234-910", Status: classify.StatusClosedSold}
	if err := store.CreateCase(c); err != nil {
		t.Fatal(err)
	}
	doc := &database.Document{
		CaseID: c.ID,
		Title:  "Report Of Foreclosure Sale",
		Text: "Property Address: 118 Maple Hollow Rd, Huntersville, NC 28078\n" +
			"The sale was held on 07/30/2025. Highest bidder at $7,317.00.",
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/cases/25SP001234-910/reprocess", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	reloaded, err := store.GetCase("25SP001234-910")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.PropertyAddress != "118 Maple Hollow Rd, Huntersville, NC 28078" {
		t.Errorf("Reprocess did not rebuild the address: %q", reloaded.PropertyAddress)
	}
	if reloaded.CurrentBid != 7317 {
		t.Errorf("Reprocess did not rebuild the bid: %v", reloaded.CurrentBid)
	}
}

func TestMonitorLogsEndpoint(t *testing.T) {
	router, store := setupTestRouter(t)

	if err := store.CreateMonitorLog(&database.MonitorLog{
		StartedAt:    time.Now().Add(-time.Minute),
		FinishedAt:   time.Now(),
		CasesChecked: 3,
	}); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/monitor/logs", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response struct {
		Data []database.MonitorLog `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Data) != 1 || response.Data[0].CasesChecked != 3 {
		t.Errorf("Unexpected logs: %+v", response.Data)
	}
}
