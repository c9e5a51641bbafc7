package scraper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// handleCaptcha solves the portal challenge when one is present. Solving
// is delegated to an external service; without a key the image is dropped
// to disk for manual handling.
func (s *Scraper) handleCaptcha(page *rod.Page) error {
	captchaImg, err := page.Element("img#captcha_image, img[id*='captcha'], img[src*='captcha']")
	if err != nil || captchaImg == nil {
		s.logger.Debug("No CAPTCHA detected")
		return nil
	}

	s.logger.Info("CAPTCHA detected, attempting to solve")

	imageData, err := s.captchaImage(page, captchaImg)
	if err != nil {
		return fmt.Errorf("failed to get CAPTCHA image: %w", err)
	}

	var solution string
	if apiKey := os.Getenv("TWOCAPTCHA_API_KEY"); apiKey != "" {
		solution, err = s.solveWith2Captcha(imageData, apiKey)
		if err != nil {
			s.logger.Warn("2Captcha failed", "error", err)
		}
	}

	if solution == "" {
		captchaID := fmt.Sprintf("captcha_%d", time.Now().Unix())
		if err := s.saveForManualSolving(captchaID, imageData); err == nil {
			s.logger.Info("CAPTCHA saved for manual solving", "id", captchaID)
			solution, err = s.waitForManualSolution(captchaID, 60*time.Second)
			if err != nil {
				s.logger.Warn("Manual CAPTCHA solving timed out", "error", err)
			}
		}
	}

	if solution == "" {
		return fmt.Errorf("failed to solve CAPTCHA with all available methods")
	}

	captchaInput, err := page.Element("input[name='captcha'], input[id*='captcha']")
	if err != nil {
		return fmt.Errorf("CAPTCHA input field not found")
	}
	captchaInput.MustInput(solution)

	return nil
}

// captchaImage reads the challenge image from an inline data URI or by
// screenshotting the element
func (s *Scraper) captchaImage(page *rod.Page, captchaImg *rod.Element) ([]byte, error) {
	src, err := captchaImg.Attribute("src")
	if err == nil && src != nil && strings.HasPrefix(*src, "data:image") {
		parts := strings.Split(*src, ",")
		if len(parts) == 2 {
			if data, err := base64.StdEncoding.DecodeString(parts[1]); err == nil {
				return data, nil
			}
		}
	}

	screenshot, err := captchaImg.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to screenshot CAPTCHA: %w", err)
	}
	return screenshot, nil
}

func (s *Scraper) solveWith2Captcha(imageData []byte, apiKey string) (string, error) {
	formData := url.Values{
		"key":    {apiKey},
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(imageData)},
		"json":   {"1"},
	}

	resp, err := http.PostForm("http://2captcha.com/in.php", formData)
	if err != nil {
		return "", fmt.Errorf("failed to submit to 2captcha: %w", err)
	}
	defer resp.Body.Close()

	var submitResp twoCaptchaResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", fmt.Errorf("failed to decode 2captcha response: %w", err)
	}
	if submitResp.Status != 1 {
		return "", fmt.Errorf("2captcha submission failed: %s", submitResp.Request)
	}

	resultURL := fmt.Sprintf("http://2captcha.com/res.php?key=%s&action=get&id=%s&json=1",
		apiKey, submitResp.Request)

	for i := 0; i < 30; i++ {
		time.Sleep(3 * time.Second)

		resp, err := http.Get(resultURL)
		if err != nil {
			continue
		}

		var resultResp twoCaptchaResponse
		err = json.NewDecoder(resp.Body).Decode(&resultResp)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}

		if resultResp.Status == 1 {
			return resultResp.Request, nil
		}
		if resultResp.Request != "CAPCHA_NOT_READY" {
			return "", fmt.Errorf("2captcha error: %s", resultResp.Request)
		}
	}

	return "", fmt.Errorf("2captcha timeout")
}

func (s *Scraper) saveForManualSolving(captchaID string, imageData []byte) error {
	captchaDir := "./data/captchas"
	os.MkdirAll(captchaDir, 0755)

	filename := fmt.Sprintf("%s/%s.png", captchaDir, captchaID)
	return os.WriteFile(filename, imageData, 0644)
}

func (s *Scraper) waitForManualSolution(captchaID string, timeout time.Duration) (string, error) {
	solutionFile := fmt.Sprintf("./data/captchas/%s.txt", captchaID)

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(solutionFile); err == nil {
			solution := strings.TrimSpace(string(data))
			if solution != "" {
				os.Remove(solutionFile)
				os.Remove(fmt.Sprintf("./data/captchas/%s.png", captchaID))
				return solution, nil
			}
		}
		time.Sleep(2 * time.Second)
	}

	return "", fmt.Errorf("timeout waiting for manual solution")
}
