package upload

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// countPages returns a reader positioned where body was and the PDF page count,
// or 0 pages when the document cannot be parsed. The backend stays authoritative
// for documents this parser does not understand.
func countPages(body io.Reader, size int64) (io.Reader, int, error) {
	ra, ok := body.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, 0, err
		}
		reader := bytes.NewReader(data)
		ra, body, size = reader, reader, int64(len(data))
	}

	pages, err := pdfPageCount(ra, size)
	if err != nil {
		return body, 0, nil
	}
	return body, pages, nil
}

func pdfPageCount(r io.ReaderAt, size int64) (n int, err error) {
	// The parser panics on some malformed input.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}
