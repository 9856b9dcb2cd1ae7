package parser

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

func parsePDF(content []byte) (sections []Section, err error) {
	// The reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			sections, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		sections = append(sections, Section{Page: i, Text: text})
	}
	return sections, nil
}
