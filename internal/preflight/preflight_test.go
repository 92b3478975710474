package preflight

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildPDF assembles a minimal but well-formed PDF with the given number of
// pages, including a correct xref table.
func buildPDF(t *testing.T, pageCount int) []byte {
	t.Helper()

	var buf bytes.Buffer
	var offsets []int

	addObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")

	addObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	kids := make([]string, pageCount)
	for i := 0; i < pageCount; i++ {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	addObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n",
		strings.Join(kids, " "), pageCount))

	for i := 0; i < pageCount; i++ {
		addObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>\nendobj\n", 3+i))
	}

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefPos)

	return buf.Bytes()
}

func TestInspectCountsPages(t *testing.T) {
	checker := NewChecker(15)

	result, err := checker.Inspect(buildPDF(t, 3))
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if result.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", result.PageCount)
	}
}

func TestInspectRejectsEmptyContent(t *testing.T) {
	checker := NewChecker(15)

	_, err := checker.Inspect(nil)
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestInspectRejectsOversizedDocument(t *testing.T) {
	checker := NewChecker(2)

	_, err := checker.Inspect(buildPDF(t, 3))
	if !errors.Is(err, ErrTooManyPages) {
		t.Fatalf("err = %v, want ErrTooManyPages", err)
	}
}

func TestInspectDisabledPageLimit(t *testing.T) {
	checker := NewChecker(0)

	result, err := checker.Inspect(buildPDF(t, 3))
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if result.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", result.PageCount)
	}
}

func TestInspectRejectsMalformedContent(t *testing.T) {
	checker := NewChecker(15)

	for _, content := range [][]byte{
		[]byte("plain text, no header"),
		[]byte("%PDF-1.4\nheader only, no xref"),
	} {
		if _, err := checker.Inspect(content); err == nil {
			t.Errorf("Inspect(%q) expected error, got nil", content)
		}
	}
}
