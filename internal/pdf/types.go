// Package pdf provides the document side of page translation: per-page text
// extraction with neighbour context, rendering translated text to new pages,
// merging rendered pages, and the checkpoint that lets a run resume.
package pdf

import (
	"errors"
	"fmt"
	"time"
)

// ContextChars is the number of characters taken from each neighbouring page.
const ContextChars = 50

// PDFInfo PDF 文件信息
type PDFInfo struct {
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
	FileSize  int64  `json:"file_size"`
	IsTextPDF bool   `json:"is_text_pdf"`
}

// ContextWindow is one page's text together with the tail of the page before
// it and the head of the page after it.
type ContextWindow struct {
	// Index is the 0-based page index in the source document.
	Index    int    `json:"index"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Next     string `json:"next"`
}

// PageNumber returns the 1-based page number.
func (w ContextWindow) PageNumber() int {
	return w.Index + 1
}

// Format renders the window as the three labeled segments sent to the translator.
func (w ContextWindow) Format() string {
	return fmt.Sprintf("Previous Page: %s\nCurrent Page: %s\nNext Page: %s", w.Previous, w.Current, w.Next)
}

// CheckpointEntry records one completed page.
type CheckpointEntry struct {
	Page         int       `json:"page"`
	SourceHash   string    `json:"source_hash"`
	Translation  string    `json:"translation"`
	RenderedPath string    `json:"rendered_path"`
	CompletedAt  time.Time `json:"completed_at"`
}

// CheckpointFile is the on-disk checkpoint format.
type CheckpointFile struct {
	Version    string            `json:"version"`
	RunID      string            `json:"run_id"`
	SourcePath string            `json:"source_path"`
	Entries    []CheckpointEntry `json:"entries"`
}

// PDFErrorCode 错误代码枚举
type PDFErrorCode string

const (
	// extraction
	ErrPDFNotFound    PDFErrorCode = "PDF_NOT_FOUND"
	ErrPDFInvalid     PDFErrorCode = "PDF_INVALID"
	ErrPageOutOfRange PDFErrorCode = "PAGE_OUT_OF_RANGE"
	ErrExtractFailed  PDFErrorCode = "EXTRACT_FAILED"

	// translation
	ErrTranslateFailed PDFErrorCode = "TRANSLATE_FAILED"
	ErrAPIFailed       PDFErrorCode = "API_FAILED"

	// rendering
	ErrFontFailed     PDFErrorCode = "FONT_FAILED"
	ErrGenerateFailed PDFErrorCode = "GENERATE_FAILED"

	// assembly
	ErrAssembleFailed PDFErrorCode = "ASSEMBLE_FAILED"

	ErrCacheFailed PDFErrorCode = "CACHE_FAILED"
	ErrCancelled   PDFErrorCode = "CANCELLED"
)

// PDFError PDF 处理错误
type PDFError struct {
	Code    PDFErrorCode `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details,omitempty"`
	// Page is the 1-based page number, 0 when the error is not tied to a page.
	Page  int   `json:"page,omitempty"`
	Cause error `json:"-"`
}

// Error implements the error interface for PDFError
func (e *PDFError) Error() string {
	msg := e.Message
	if e.Page > 0 {
		msg = fmt.Sprintf("page %d: %s", e.Page, msg)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *PDFError) Unwrap() error {
	return e.Cause
}

// NewPDFError creates a new PDFError with the given code, message, and optional cause
func NewPDFError(code PDFErrorCode, message string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewPDFErrorWithDetails creates a new PDFError with details
func NewPDFErrorWithDetails(code PDFErrorCode, message, details string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// NewPDFErrorWithPage creates a new PDFError with page information
func NewPDFErrorWithPage(code PDFErrorCode, message string, page int, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Page:    page,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first PDFError in err's chain, or "".
func CodeOf(err error) PDFErrorCode {
	var pdfErr *PDFError
	if errors.As(err, &pdfErr) {
		return pdfErr.Code
	}
	return ""
}

// IsExtractionError reports whether err came from reading the source document.
func IsExtractionError(err error) bool {
	switch CodeOf(err) {
	case ErrPDFNotFound, ErrPDFInvalid, ErrPageOutOfRange, ErrExtractFailed:
		return true
	}
	return false
}

// IsTranslationError reports whether err came from the translation service.
func IsTranslationError(err error) bool {
	switch CodeOf(err) {
	case ErrTranslateFailed, ErrAPIFailed:
		return true
	}
	return false
}

// IsRenderError reports whether err came from rendering a page.
func IsRenderError(err error) bool {
	switch CodeOf(err) {
	case ErrFontFailed, ErrGenerateFailed:
		return true
	}
	return false
}

// IsAssemblyError reports whether err came from merging rendered pages.
func IsAssemblyError(err error) bool {
	return CodeOf(err) == ErrAssembleFailed
}
