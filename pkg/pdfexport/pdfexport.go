// Package pdfexport compiles generated page images into one A4 PDF.
package pdfexport

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-pdf/fpdf"
)

const (
	pageWidth  = 595.0
	pageHeight = 842.0
	margin     = 36.0
)

// Page is one page of the export. A page with no Image is rendered as a
// placeholder carrying Notice.
type Page struct {
	Image  []byte
	Notice string
}

func imageType(data []byte) (string, error) {
	switch http.DetectContentType(data) {
	case "image/png":
		return "PNG", nil
	case "image/jpeg":
		return "JPG", nil
	case "image/gif":
		return "GIF", nil
	default:
		return "", errors.New("unsupported image format")
	}
}

// Compile renders pages in order, scaling each image to fit inside the margins.
func Compile(title string, pages []Page) ([]byte, error) {
	if len(pages) == 0 {
		return nil, errors.New("no pages to compile")
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)

	boxW, boxH := pageWidth-2*margin, pageHeight-2*margin

	for i, page := range pages {
		pdf.AddPage()

		if len(page.Image) == 0 {
			placeholder(pdf, i+1, page.Notice)
			continue
		}

		kind, err := imageType(page.Image)
		if err != nil {
			placeholder(pdf, i+1, "Page image could not be read.")
			continue
		}

		name := fmt.Sprintf("page-%d", i+1)
		info := pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: kind}, bytes.NewReader(page.Image))
		if pdf.Error() != nil || info == nil {
			pdf.ClearError()
			placeholder(pdf, i+1, "Page image could not be read.")
			continue
		}

		w, h := info.Width(), info.Height()
		scale := boxW / w
		if h*scale > boxH {
			scale = boxH / h
		}
		w, h = w*scale, h*scale
		x := margin + (boxW-w)/2
		y := margin + (boxH-h)/2

		pdf.ImageOptions(name, x, y, w, h, false, fpdf.ImageOptions{ImageType: kind}, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func placeholder(pdf *fpdf.Fpdf, number int, notice string) {
	if notice == "" {
		notice = "This page could not be generated."
	}
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetXY(margin, pageHeight/2-40)
	pdf.CellFormat(pageWidth-2*margin, 24, fmt.Sprintf("Page %d", number), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetX(margin)
	pdf.MultiCell(pageWidth-2*margin, 16, notice, "", "C", false)
}
