package pdfutil

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// open wraps pdf.NewReader and converts its panics on badly broken files
// into errors.
func open(data []byte) (doc *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("corrupt pdf: %v", r)
		}
	}()
	doc, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("new pdf reader: %w", err)
	}
	return doc, nil
}

// ExtractText reads PDF bytes and returns plain text using ledongthuc/pdf.
func ExtractText(data []byte) (string, error) {
	pages, err := ExtractPages(data)
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	for _, p := range pages {
		builder.WriteString(p)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// ExtractPages returns the plain text of every page. Pages without content
// yield an empty string so indexes still match page numbers minus one.
func ExtractPages(data []byte) ([]string, error) {
	doc, err := open(data)
	if err != nil {
		return nil, err
	}
	total := doc.NumPage()
	pages := make([]string, 0, total)
	for page := 1; page <= total; page++ {
		text, err := pageText(doc, page)
		if err != nil {
			return nil, err
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func pageText(doc *pdf.Reader, page int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", page, r)
		}
	}()
	p := doc.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	content, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d: %w", page, err)
	}
	return content, nil
}
