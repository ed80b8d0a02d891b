// Package printer renders printable label sheets for dispatched QRs.
package printer

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

// Label is one printable delivery label
type Label struct {
	QrID          string `json:"qrId"`
	Token         string `json:"token"`
	OrderID       string `json:"orderId"`
	BatchID       string `json:"batchId"`
	PackageNumber int    `json:"packageNumber"`
	TotalPackages int    `json:"totalPackages"`
}

// SheetConfig holds the layout of a label sheet
type SheetConfig struct {
	Cols       int     `json:"cols"`
	Rows       int     `json:"rows"`
	MarginTop  float64 `json:"marginTop"`
	MarginLeft float64 `json:"marginLeft"`
	GapX       float64 `json:"gapX"`
	GapY       float64 `json:"gapY"`
	BaseURL    string  `json:"baseUrl"` // prepended to the token when set
}

// DefaultSheet is a 2x4 layout on A4
func DefaultSheet() SheetConfig {
	return SheetConfig{
		Cols:       2,
		Rows:       4,
		MarginTop:  10,
		MarginLeft: 10,
		GapX:       4,
		GapY:       4,
	}
}

// GenerateLabelSheet renders the labels onto A4 pages. The QR encodes the
// full signed token: the label is the only place the raw token survives
// after dispatch.
func GenerateLabelSheet(cfg SheetConfig, labels []Label) ([]byte, error) {
	if cfg.Cols < 1 || cfg.Rows < 1 {
		return nil, fmt.Errorf("sheet layout must have at least one row and column")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no labels to print")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Arial", "B", 10)

	pageWidth, pageHeight := 210.0, 297.0

	totalGapX := float64(cfg.Cols-1) * cfg.GapX
	totalGapY := float64(cfg.Rows-1) * cfg.GapY
	availW := pageWidth - (cfg.MarginLeft * 2)
	availH := pageHeight - (cfg.MarginTop * 2)

	labelW := (availW - totalGapX) / float64(cfg.Cols)
	labelH := (availH - totalGapY) / float64(cfg.Rows)

	labelsPerPage := cfg.Cols * cfg.Rows

	for i, label := range labels {
		if i%labelsPerPage == 0 {
			pdf.AddPage()
		}

		indexOnPage := i % labelsPerPage
		col := indexOnPage % cfg.Cols
		row := indexOnPage / cfg.Cols

		x := cfg.MarginLeft + float64(col)*(labelW+cfg.GapX)
		y := cfg.MarginTop + float64(row)*(labelH+cfg.GapY)

		qrContent := label.Token
		if cfg.BaseURL != "" {
			qrContent = cfg.BaseURL + label.Token
		}

		qrPng, err := qrcode.Encode(qrContent, qrcode.Medium, 256)
		if err != nil {
			return nil, err
		}

		imgName := fmt.Sprintf("qr_%d", i)
		imgOptions := gofpdf.ImageOptions{
			ImageType: "PNG",
			ReadDpi:   true,
		}
		_ = pdf.RegisterImageOptionsReader(imgName, imgOptions, bytes.NewReader(qrPng))

		qrSize := labelH * 0.7
		if qrSize > labelW {
			qrSize = labelW * 0.9
		}
		qrX := x + (labelW-qrSize)/2
		qrY := y + (labelH-qrSize)/2 - 2

		pdf.ImageOptions(imgName, qrX, qrY, qrSize, qrSize, false, imgOptions, 0, "")

		// Order line below the QR
		pdf.SetXY(x, y+labelH-11)
		pdf.SetFontSize(8)
		pdf.CellFormat(labelW, 5, label.OrderID, "", 0, "C", false, 0, "")

		// Package counter
		pdf.SetXY(x, y+labelH-6)
		pdf.SetFontSize(8)
		counter := fmt.Sprintf("Paquete %d/%d", label.PackageNumber, label.TotalPackages)
		pdf.CellFormat(labelW, 5, counter, "", 0, "C", false, 0, "")

		// Batch in the top right corner
		pdf.SetXY(x, y+1)
		pdf.SetFontSize(6)
		pdf.CellFormat(labelW, 3, label.BatchID, "", 0, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
