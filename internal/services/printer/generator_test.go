package printer

import (
	"bytes"
	"testing"
)

func TestGenerateLabelSheet(t *testing.T) {
	labels := []Label{
		{QrID: "q1", Token: "aaa.bbb.ccc", OrderID: "SO-9001", BatchID: "LOTE-7", PackageNumber: 1, TotalPackages: 2},
		{QrID: "q2", Token: "ddd.eee.fff", OrderID: "SO-9001", BatchID: "LOTE-7", PackageNumber: 2, TotalPackages: 2},
	}

	pdf, err := GenerateLabelSheet(DefaultSheet(), labels)
	if err != nil {
		t.Fatalf("GenerateLabelSheet failed: %v", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Error("Output should be a PDF document")
	}
}

func TestGenerateLabelSheetValidation(t *testing.T) {
	if _, err := GenerateLabelSheet(DefaultSheet(), nil); err == nil {
		t.Error("Empty label list should fail")
	}
	cfg := DefaultSheet()
	cfg.Cols = 0
	if _, err := GenerateLabelSheet(cfg, []Label{{Token: "t"}}); err == nil {
		t.Error("Zero columns should fail")
	}
}

func TestGenerateLabelSheetMultiPage(t *testing.T) {
	cfg := DefaultSheet() // 8 per page
	labels := make([]Label, 9)
	for i := range labels {
		labels[i] = Label{Token: "tok", OrderID: "SO-1", PackageNumber: i + 1, TotalPackages: 9}
	}
	pdf, err := GenerateLabelSheet(cfg, labels)
	if err != nil {
		t.Fatalf("GenerateLabelSheet failed: %v", err)
	}
	if len(pdf) == 0 {
		t.Error("Expected non-empty PDF")
	}
}
