package pdfextract

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the plain text of one PDF page; Number starts at 1.
type Page struct {
	Number int
	Text   string
}

// ExtractPages opens the PDF at path and returns the plain text of every page
// that has any. A PDF without extractable text yields an empty slice.
func ExtractPages(path string) (pages []Page, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf failed: %w", err)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("pdf file is empty")
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d failed: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
