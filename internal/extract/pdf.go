package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var pageSeparator = strings.Repeat("-", 40) + "\n"

// readPDF emits each page as "Page<n>:\n<text>\n" followed by a line of
// 40 dashes.
func readPDF(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", corrupt(FormatPDF, fmt.Errorf("parser panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", corrupt(FormatPDF, err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		var pageText string
		if !page.V.IsNull() {
			pageText, err = page.GetPlainText(nil)
			if err != nil {
				return "", corrupt(FormatPDF, fmt.Errorf("page %d: %w", i, err))
			}
		}
		fmt.Fprintf(&b, "Page%d:\n%s\n", i, pageText)
		b.WriteString(pageSeparator)
	}
	return b.String(), nil
}
