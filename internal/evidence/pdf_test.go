package evidence

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRenderProducesValidHeader(t *testing.T) {
	pdf := Render("Titulo", []string{"linea uno", "linea dos"})

	if !bytes.HasPrefix(pdf, []byte("%PDF-1.4")) {
		t.Errorf("PDF should start with %%PDF-1.4, got %q", pdf[:12])
	}
	if !bytes.Contains(pdf, []byte("%%EOF")) {
		t.Errorf("PDF should end with %s marker", "%%EOF")
	}
	if !bytes.Contains(pdf, []byte("/BaseFont /Helvetica")) {
		t.Error("PDF should declare the Helvetica font")
	}
}

func TestRenderXrefOffsetsMatchObjects(t *testing.T) {
	pdf := Render("Constancia", []string{"contenido de prueba"})
	text := string(pdf)

	xrefIdx := strings.LastIndex(text, "\nxref\n")
	if xrefIdx < 0 {
		t.Fatal("No xref table found")
	}
	xrefIdx++ // point at the "xref" keyword itself, past the preceding newline

	// Each offset in the table must point at the matching "N 0 obj" header
	xref := text[xrefIdx:]
	lines := strings.Split(xref, "\n")
	// lines[0]="xref", lines[1]="0 6", lines[2]=free entry, then objects 1..5
	for obj := 1; obj <= 5; obj++ {
		entry := lines[2+obj]
		offset, err := strconv.Atoi(strings.TrimLeft(entry[:10], "0"))
		if err != nil {
			t.Fatalf("Bad xref entry %q: %v", entry, err)
		}
		want := fmt.Sprintf("%d 0 obj", obj)
		if !strings.HasPrefix(text[offset:], want) {
			t.Errorf("Object %d: offset %d points at %q, want %q", obj, offset, text[offset:offset+10], want)
		}
	}

	// startxref must point at the xref keyword
	startIdx := strings.LastIndex(text, "startxref\n")
	rest := strings.Split(text[startIdx+len("startxref\n"):], "\n")
	startOffset, err := strconv.Atoi(rest[0])
	if err != nil {
		t.Fatalf("Bad startxref value: %v", err)
	}
	if startOffset != xrefIdx {
		t.Errorf("startxref = %d, want %d", startOffset, xrefIdx)
	}
}

func TestRenderContentStreamLength(t *testing.T) {
	pdf := string(Render("T", []string{"x"}))

	// /Length must equal the exact stream byte count
	lengthIdx := strings.Index(pdf, "/Length ")
	end := strings.Index(pdf[lengthIdx:], " >>")
	length, err := strconv.Atoi(pdf[lengthIdx+len("/Length ") : lengthIdx+end])
	if err != nil {
		t.Fatalf("Bad /Length: %v", err)
	}

	streamStart := strings.Index(pdf, "stream\n") + len("stream\n")
	streamEnd := strings.Index(pdf, "\nendstream")
	if got := streamEnd - streamStart; got != length {
		t.Errorf("Stream is %d bytes but /Length says %d", got, length)
	}
}

func TestRenderEscapesDelimiters(t *testing.T) {
	pdf := string(Render("Titulo (especial)", []string{`ruta C:\entregas (lote 1)`}))

	if strings.Contains(pdf, "(Titulo (especial)) Tj") {
		t.Error("Unescaped parentheses in text operand")
	}
	if !strings.Contains(pdf, `Titulo \(especial\)`) {
		t.Error("Parentheses should be escaped with backslashes")
	}
	if !strings.Contains(pdf, `C:\\entregas`) {
		t.Error("Backslashes should be escaped")
	}
}

func TestWrapLine(t *testing.T) {
	long := strings.Repeat("palabra ", 30) // 240 chars
	wrapped := wrapLine(strings.TrimSpace(long), 92)
	if len(wrapped) < 2 {
		t.Fatalf("Expected multiple lines, got %d", len(wrapped))
	}
	for _, l := range wrapped {
		if len(l) > 92 {
			t.Errorf("Line exceeds wrap width: %d chars", len(l))
		}
	}

	// A single word longer than the width is hard-split
	huge := strings.Repeat("x", 200)
	wrapped = wrapLine(huge, 92)
	if len(wrapped) != 3 {
		t.Errorf("Expected 3 chunks, got %d", len(wrapped))
	}
}

func TestBuildConfirmationDocument(t *testing.T) {
	pdf := BuildConfirmationDocument(ConfirmationDetails{
		OrderID:       "SO-9001",
		QrID:          "qr-1",
		WarehouseID:   "BOG-01",
		BatchID:       "LOTE-7",
		TransporterID: "trans-3",
		ConfirmedAt:   time.Date(2026, 8, 12, 15, 4, 5, 0, time.UTC),
		HasIncident:   true,
		IncidentNotes: "caja humeda",
	})

	if !bytes.HasPrefix(pdf, []byte("%PDF-1.4")) {
		t.Error("Evidence document should be a valid PDF")
	}
	text := string(pdf)
	for _, want := range []string{"SO-9001", "ENTREGA CON INCIDENTE", "caja humeda"} {
		if !strings.Contains(text, want) {
			t.Errorf("Document should contain %q", want)
		}
	}
}
