// Package preflight validates uploaded PDF bytes before the pipeline writes
// any record for them.
package preflight

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	ErrEmptyDocument = errors.New("preflight: document is empty")
	ErrTooManyPages  = errors.New("preflight: document exceeds the page limit")
)

// Result carries what the inspection learned about the file.
type Result struct {
	PageCount int
}

// Checker refuses files the processor would choke on: empty uploads, corrupt
// structure, page counts past the processor limit.
type Checker struct {
	maxPages int
}

// NewChecker builds a checker. maxPages <= 0 disables the page limit.
func NewChecker(maxPages int) *Checker {
	return &Checker{maxPages: maxPages}
}

// Inspect parses the document structure without extracting text.
func (c *Checker) Inspect(content []byte) (result *Result, err error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("preflight: malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("preflight: unreadable pdf: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount <= 0 {
		return nil, fmt.Errorf("preflight: document has no pages")
	}
	if c.maxPages > 0 && pageCount > c.maxPages {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrTooManyPages, pageCount, c.maxPages)
	}

	for i := 1; i <= pageCount; i++ {
		if reader.Page(i).V.IsNull() {
			return nil, fmt.Errorf("preflight: page %d is unreadable", i)
		}
	}

	return &Result{PageCount: pageCount}, nil
}
