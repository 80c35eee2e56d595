package upload

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/studylm/uploader/internal/models"
)

// Item is one source to submit: a file body or a link.
type Item struct {
	Name        string
	ContentType string // consulted when Name has no recognised extension
	Size        int64  // -1 when unknown
	Body        io.Reader
	URL         string

	closer io.Closer
}

// FileItem wraps a file body of known size. Use -1 when the size is unknown.
func FileItem(name string, size int64, body io.Reader) Item {
	return Item{Name: name, Size: size, Body: body}
}

// BytesItem wraps an in-memory file.
func BytesItem(name string, data []byte) Item {
	return FileItem(name, int64(len(data)), bytes.NewReader(data))
}

// OpenFile opens path as an Item. The caller must Close it.
func OpenFile(path string) (Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return Item{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Item{}, err
	}
	if info.IsDir() {
		f.Close()
		return Item{}, fmt.Errorf("%s is a directory", path)
	}

	it := FileItem(filepath.Base(path), info.Size(), f)
	it.closer = f
	return it, nil
}

// WithCloser attaches c so that it.Close releases it.
func WithCloser(it Item, c io.Closer) Item {
	it.closer = c
	return it
}

// URLItem wraps a link for /ingest_url.
func URLItem(link string) Item {
	return Item{URL: strings.TrimSpace(link), Size: -1}
}

func (it Item) IsURL() bool {
	return it.URL != ""
}

// Label is the display name: filename or link.
func (it Item) Label() string {
	if it.IsURL() {
		return it.URL
	}
	return it.Name
}

// Close releases the file opened by OpenFile.
func (it Item) Close() error {
	if it.closer == nil {
		return nil
	}
	return it.closer.Close()
}

// Limits are the client-side checks applied before any request is sent.
type Limits struct {
	MaxFileSize       int64
	MaxPDFPages       int // 0 disables the page check
	MaxBatch          int
	AllowedExtensions []string
}

// DefaultLimits matches the backend's documented limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:       20 << 20,
		MaxPDFPages:       200,
		MaxBatch:          5,
		AllowedExtensions: []string{".pdf", ".png", ".jpg", ".jpeg"},
	}
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

var contentTypeExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
}

// prepared is a validated item ready to send.
type prepared struct {
	kind        models.SourceKind
	name        string
	contentType string
	size        *int64
	body        io.Reader
	url         string
}

// prepare validates it against l. It never touches the network.
func (l Limits) prepare(it Item) (*prepared, *SubmissionError) {
	if it.IsURL() {
		return l.prepareURL(it)
	}

	label := it.Label()
	if it.Body == nil {
		return nil, newSubmissionError(label, CodeEmptyFile, "no file content")
	}

	ext, contentType, err := l.resolveType(it)
	if err != nil {
		return nil, err
	}

	body := it.Body
	size := it.Size
	if size < 0 {
		// Unknown length: read one byte past the limit to detect oversize input.
		data, readErr := io.ReadAll(io.LimitReader(body, l.MaxFileSize+1))
		if readErr != nil {
			return nil, &SubmissionError{Item: label, Code: CodeEmptyFile, Message: "failed to read file", Err: readErr}
		}
		size = int64(len(data))
		body = bytes.NewReader(data)
	}

	if size == 0 {
		return nil, newSubmissionError(label, CodeEmptyFile, "file is empty")
	}
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return nil, newSubmissionError(label, CodeFileTooLarge,
			fmt.Sprintf("%s exceeds the %s upload limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(l.MaxFileSize))))
	}

	kind := models.SourceKindImage
	if ext == ".pdf" {
		kind = models.SourceKindPDF
		if l.MaxPDFPages > 0 {
			var pages int
			var readErr error
			body, pages, readErr = countPages(body, size)
			if readErr != nil {
				return nil, &SubmissionError{Item: label, Code: CodeEmptyFile, Message: "failed to read file", Err: readErr}
			}
			if pages > l.MaxPDFPages {
				return nil, newSubmissionError(label, CodeTooManyPages,
					fmt.Sprintf("PDF has %d pages, the limit is %d", pages, l.MaxPDFPages))
			}
		}
	}

	return &prepared{
		kind:        kind,
		name:        it.Name,
		contentType: contentType,
		size:        &size,
		body:        body,
	}, nil
}

func (l Limits) resolveType(it Item) (string, string, *SubmissionError) {
	ext := strings.ToLower(filepath.Ext(it.Name))
	if _, known := extensionTypes[ext]; !known {
		declared := strings.ToLower(strings.TrimSpace(strings.Split(it.ContentType, ";")[0]))
		ext = contentTypeExtensions[declared]
	}

	contentType, known := extensionTypes[ext]
	if !known || !l.allows(ext) {
		return "", "", newSubmissionError(it.Label(), CodeUnsupportedType,
			fmt.Sprintf("unsupported file type; allowed: %s", strings.Join(l.AllowedExtensions, ", ")))
	}
	return ext, contentType, nil
}

func (l Limits) allows(ext string) bool {
	for _, allowed := range l.AllowedExtensions {
		if allowed == ext {
			return true
		}
		// .jpg and .jpeg name the same type
		if (allowed == ".jpg" || allowed == ".jpeg") && (ext == ".jpg" || ext == ".jpeg") {
			return true
		}
	}
	return false
}

func (l Limits) prepareURL(it Item) (*prepared, *SubmissionError) {
	u, err := url.Parse(it.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newSubmissionError(it.URL, CodeInvalidURL, "link must be an absolute http or https URL")
	}
	return &prepared{
		kind: models.SourceKindURL,
		name: it.URL,
		url:  it.URL,
	}, nil
}
