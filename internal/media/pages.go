package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dslipak/pdf"
)

const (
	MaxPages      = 30
	BlankPageText = "No text content on this slide"
)

var ErrExtract = errors.New("extract document text failed")

// SlidePage is the text of one deck page, numbered from 1.
type SlidePage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// PageSource exposes the pages of an opened document.
type PageSource interface {
	NumPage() int
	PageText(n int) (string, error)
}

// BuildSlidePages applies the page cap and the blank-page placeholder to raw
// page texts.
func BuildSlidePages(raw []string) []SlidePage {
	n := min(len(raw), MaxPages)
	pages := make([]SlidePage, n)
	for i := 0; i < n; i++ {
		text := strings.TrimSpace(raw[i])
		if text == "" {
			text = BlankPageText
		}
		pages[i] = SlidePage{Number: i + 1, Text: text}
	}
	return pages
}

// PageExtractor reads slide text out of PDF documents.
type PageExtractor struct {
	open func(path string) (PageSource, func(), error)
}

func NewPageExtractor() *PageExtractor {
	return &PageExtractor{open: openPDF}
}

// ExtractPages returns at most MaxPages pages of document. Pages past the cap
// are never read.
func (e *PageExtractor) ExtractPages(ctx context.Context, document Handle) (pages []SlidePage, err error) {
	// the pdf reader panics on some malformed input
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: %v", ErrExtract, r)
		}
	}()

	src, closeFn, err := e.open(document.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtract, err)
	}
	defer closeFn()
	return readPages(ctx, src)
}

func readPages(ctx context.Context, src PageSource) ([]SlidePage, error) {
	n := min(src.NumPage(), MaxPages)
	raw := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := src.PageText(i)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrExtract, i, err)
		}
		raw = append(raw, text)
	}
	return BuildSlidePages(raw), nil
}

type pdfSource struct {
	r *pdf.Reader
}

func (p pdfSource) NumPage() int { return p.r.NumPage() }

func (p pdfSource) PageText(n int) (string, error) {
	page := p.r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func openPDF(path string) (PageSource, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return pdfSource{r: r}, func() { f.Close() }, nil
}
