package extract

import (
	"math"
	"testing"
	"time"
)

const noticeOfUpsetBid = `
STATE OF NORTH CAROLINA
COUNTY OF MECKLENBURG

NOTICE OF UPSET BID

The undersigned filed an upset bid in the amount of $243,000.00 for the
real property located at: 4512 Wilmore Drive, Charlotte, NC 28203.
The minimum amount of the next upset bid: $255,150.00.
Date of Sale: August 22, 2025
`

const reportOfSale = `
REPORT OF FORECLOSURE SALE
Property Address: 118 Maple Hollow Rd, Huntersville, NC 28078
The sale was held on 07/30/2025. Highest bidder at $7,317.00.
`

func TestExtractNoticeOfUpsetBid(t *testing.T) {
	f := FromText(noticeOfUpsetBid)

	if f.PropertyAddress != "4512 Wilmore Drive, Charlotte, NC 28203" {
		t.Errorf("Wrong address: %q", f.PropertyAddress)
	}
	if f.CurrentBid == nil || *f.CurrentBid != 243000 {
		t.Errorf("Wrong current bid: %v", f.CurrentBid)
	}
	if f.MinimumNextBid == nil || *f.MinimumNextBid != 255150 {
		t.Errorf("Wrong minimum next bid: %v", f.MinimumNextBid)
	}
	if f.SaleDate == nil || !f.SaleDate.Equal(time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Wrong sale date: %v", f.SaleDate)
	}
}

func TestExtractReportOfSale(t *testing.T) {
	f := FromText(reportOfSale)

	if f.PropertyAddress != "118 Maple Hollow Rd, Huntersville, NC 28078" {
		t.Errorf("Wrong address: %q", f.PropertyAddress)
	}
	if f.CurrentBid == nil || *f.CurrentBid != 7317 {
		t.Errorf("Wrong current bid: %v", f.CurrentBid)
	}
	if f.SaleDate == nil || !f.SaleDate.Equal(time.Date(2025, 7, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Wrong sale date: %v", f.SaleDate)
	}
}

func TestMinimumUpsetBidStatute(t *testing.T) {
	tests := []struct {
		current float64
		want    float64
	}{
		{7317, 8067},      // 5% is $365.85, the $750 floor wins
		{243000, 255150},  // 5% is $12,150
		{15000, 15750},    // exactly at the crossover region
	}

	for _, tt := range tests {
		if got := MinimumUpsetBid(tt.current); math.Abs(got-tt.want) > 0.001 {
			t.Errorf("MinimumUpsetBid(%v) = %v, want %v", tt.current, got, tt.want)
		}
	}
}

func TestMinimumDerivedWhenNotStated(t *testing.T) {
	f := FromText("Current bid: $10,000.00 for the property.")

	if f.CurrentBid == nil || *f.CurrentBid != 10000 {
		t.Fatalf("Wrong current bid: %v", f.CurrentBid)
	}
	if f.MinimumNextBid == nil || *f.MinimumNextBid != 10750 {
		t.Errorf("Expected derived minimum 10750, got %v", f.MinimumNextBid)
	}
}

func TestMergeFirstWins(t *testing.T) {
	first := FromText(noticeOfUpsetBid)
	second := FromText(reportOfSale)

	merged := first
	Merge(&merged, second)

	if merged.PropertyAddress != "4512 Wilmore Drive, Charlotte, NC 28203" {
		t.Errorf("Merge overwrote an already extracted address: %q", merged.PropertyAddress)
	}

	var empty Fields
	Merge(&empty, second)
	if empty.PropertyAddress != "118 Maple Hollow Rd, Huntersville, NC 28078" {
		t.Errorf("Merge did not fill empty fields: %q", empty.PropertyAddress)
	}
}

func TestNoFieldsInUnrelatedText(t *testing.T) {
	f := FromText("ORDER CONTINUING HEARING\nThe hearing is continued to a later date.")

	if f.PropertyAddress != "" || f.CurrentBid != nil || f.SaleDate != nil {
		t.Errorf("Expected no fields from unrelated text, got %+v", f)
	}
}
