// Package parser extracts plain text from uploaded documents.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Section is the text of one page. Formats without pages return a single
// section with Page 1.
type Section struct {
	Page int
	Text string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoText            = errors.New("document contains no extractable text")
)

var mimeTypes = map[string]string{
	".pdf":      "application/pdf",
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Supported reports whether filename has an accepted extension.
func Supported(filename string) bool {
	_, ok := mimeTypes[Extension(filename)]
	return ok
}

func MimeType(filename string) string {
	if m, ok := mimeTypes[Extension(filename)]; ok {
		return m
	}
	return "application/octet-stream"
}

// Parse dispatches on the file extension.
func Parse(filename string, content []byte) ([]Section, error) {
	var (
		sections []Section
		err      error
	)

	switch Extension(filename) {
	case ".pdf":
		sections, err = parsePDF(content)
	case ".docx":
		sections, err = parseDOCX(content)
	case ".txt", ".md", ".markdown":
		sections, err = parsePlain(content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, Extension(filename))
	}
	if err != nil {
		return nil, err
	}

	for _, s := range sections {
		if strings.TrimSpace(s.Text) != "" {
			return sections, nil
		}
	}
	return nil, ErrNoText
}

func parsePlain(content []byte) ([]Section, error) {
	if !utf8.Valid(content) {
		return nil, errors.New("text file is not valid UTF-8")
	}
	text := strings.TrimPrefix(string(content), "\ufeff")
	return []Section{{Page: 1, Text: text}}, nil
}

// Join concatenates sections with a blank line between pages and returns
// the byte offset at which each section starts.
func Join(sections []Section) (string, []int) {
	var b strings.Builder
	offsets := make([]int, len(sections))
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		offsets[i] = b.Len()
		b.WriteString(s.Text)
	}
	return b.String(), offsets
}

// PageAt returns the page of the section containing offset.
func PageAt(sections []Section, offsets []int, offset int) int {
	page := 1
	for i, start := range offsets {
		if start > offset {
			break
		}
		page = sections[i].Page
	}
	return page
}
