package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode"

	"github.com/ledongthuc/pdf"

	"pdf-page-translator/internal/logger"
)

// Extractor reads page text from a source PDF.
type Extractor struct {
	path   string
	file   *os.File
	reader *pdf.Reader
}

// NewExtractor opens the PDF at path. The caller must Close it.
func NewExtractor(path string) (*Extractor, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewPDFErrorWithDetails(ErrPDFNotFound, "source document not found", path, err)
		}
		return nil, NewPDFErrorWithDetails(ErrPDFInvalid, "cannot access source document", path, err)
	}
	if fileInfo.IsDir() {
		return nil, NewPDFErrorWithDetails(ErrPDFInvalid, "source path is a directory", path, nil)
	}

	f, r, err := openPDF(path)
	if err != nil {
		return nil, NewPDFErrorWithDetails(ErrPDFInvalid, "cannot open source document", path, err)
	}

	logger.Debug("source document opened",
		logger.String("file", filepath.Base(path)),
		logger.Int("pages", r.NumPage()))

	return &Extractor{path: path, file: f, reader: r}, nil
}

// openPDF wraps pdf.Open, which panics on some truncated files.
func openPDF(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				f.Close()
			}
			f, r = nil, nil
			err = NewPDFErrorWithDetails(ErrPDFInvalid, "malformed document", path, nil)
		}
	}()
	f, r, err = pdf.Open(path)
	if err != nil && f != nil {
		f.Close()
		f = nil
	}
	return f, r, err
}

// Close releases the underlying file.
func (e *Extractor) Close() error {
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}

// Path returns the source document path.
func (e *Extractor) Path() string {
	return e.path
}

// PageCount returns the number of pages in the document.
func (e *Extractor) PageCount() int {
	return e.reader.NumPage()
}

// PageText returns the plain text of the page at the 0-based index.
// Pages without a content stream yield "".
func (e *Extractor) PageText(index int) (string, error) {
	if index < 0 || index >= e.PageCount() {
		return "", NewPDFErrorWithDetails(ErrPageOutOfRange, "page index out of range",
			rangeDetail(index, e.PageCount()), nil)
	}

	page := e.reader.Page(index + 1)
	if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
		return "", nil
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return "", NewPDFErrorWithPage(ErrExtractFailed, "failed to extract page text", index+1, err)
	}
	return text, nil
}

// Windows returns an iterator over the context windows of pages start..end
// (0-based, inclusive). Indices are validated before anything is read.
func (e *Extractor) Windows(start, end int) (*PageWindows, error) {
	count := e.PageCount()
	if start < 0 || start >= count {
		return nil, NewPDFErrorWithDetails(ErrPageOutOfRange, "start page out of range", rangeDetail(start, count), nil)
	}
	if end < start || end >= count {
		return nil, NewPDFErrorWithDetails(ErrPageOutOfRange, "end page out of range", rangeDetail(end, count), nil)
	}

	w := &PageWindows{ex: e, next: start, end: end}
	if start > 0 {
		prev, err := e.PageText(start - 1)
		if err != nil {
			return nil, err
		}
		w.prev = prev
	}
	return w, nil
}

// PageWindows yields one ContextWindow per page in ascending order. It reads
// pages on demand and cannot be restarted.
//
//	it, err := ex.Windows(0, ex.PageCount()-1)
//	for it.Next() {
//		w := it.Window()
//	}
//	if err := it.Err(); err != nil { ... }
type PageWindows struct {
	ex   *Extractor
	next int
	end  int

	prev      string
	lookahead *string
	current   ContextWindow
	err       error
}

// Next advances to the next window. It returns false when the range is
// exhausted or extraction fails; check Err afterwards.
func (w *PageWindows) Next() bool {
	if w.err != nil || w.next > w.end {
		return false
	}

	i := w.next
	var current string
	if w.lookahead != nil {
		current = *w.lookahead
		w.lookahead = nil
	} else {
		text, err := w.ex.PageText(i)
		if err != nil {
			w.err = err
			return false
		}
		current = text
	}

	var nextHead string
	if i+1 < w.ex.PageCount() {
		text, err := w.ex.PageText(i + 1)
		if err != nil {
			w.err = err
			return false
		}
		w.lookahead = &text
		nextHead = Head(text, ContextChars)
	}

	w.current = ContextWindow{
		Index:    i,
		Previous: Tail(w.prev, ContextChars),
		Current:  current,
		Next:     nextHead,
	}
	w.prev = current
	w.next++
	return true
}

// Window returns the window produced by the last successful Next.
func (w *PageWindows) Window() ContextWindow {
	return w.current
}

// Err returns the first extraction error, if any.
func (w *PageWindows) Err() error {
	return w.err
}

// Collect drains the iterator into a slice.
func (w *PageWindows) Collect() ([]ContextWindow, error) {
	var out []ContextWindow
	for w.Next() {
		out = append(out, w.Window())
	}
	return out, w.Err()
}

// Head returns the first n characters of s.
func Head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Tail returns the last n characters of s.
func Tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// GetPDFInfo 获取 PDF 基本信息（页数、文件大小、是否含可提取文本）
func GetPDFInfo(path string) (*PDFInfo, error) {
	ex, err := NewExtractor(path)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "cannot access source document", err)
	}

	return &PDFInfo{
		FilePath:  path,
		FileName:  filepath.Base(path),
		PageCount: ex.PageCount(),
		FileSize:  fileInfo.Size(),
		IsTextPDF: ex.hasText(3),
	}, nil
}

// hasText reports whether any of the first maxPages pages has non-space text.
// Scanned documents have none and are not translatable.
func (e *Extractor) hasText(maxPages int) bool {
	if e.PageCount() < maxPages {
		maxPages = e.PageCount()
	}
	for i := 0; i < maxPages; i++ {
		text, err := e.PageText(i)
		if err != nil {
			continue
		}
		for _, r := range text {
			if !unicode.IsSpace(r) {
				return true
			}
		}
	}
	return false
}

func rangeDetail(index, count int) string {
	return fmt.Sprintf("index %d, document has %d pages", index, count)
}
