package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	gopdf "github.com/VantageDataChat/GoPDF2"
	"golang.org/x/image/font/sfnt"

	"pdf-page-translator/internal/logger"
)

const fontFamily = "page-font"

// Layout describes the page geometry used for rendered pages, in points.
type Layout struct {
	PageWidth  float64
	PageHeight float64
	Margin     float64
	FontSize   float64
	Leading    float64
}

// DefaultLayout is US Letter with 1-inch margins, 12pt text on 15pt leading.
func DefaultLayout() Layout {
	return Layout{
		PageWidth:  612,
		PageHeight: 792,
		Margin:     72,
		FontSize:   12,
		Leading:    15,
	}
}

// LinesPerPage is the number of lines that fit inside the margin box.
func (l Layout) LinesPerPage() int {
	n := int((l.PageHeight - 2*l.Margin) / l.Leading)
	if n < 1 {
		return 1
	}
	return n
}

// TextWidth is the width available to a line.
func (l Layout) TextWidth() float64 {
	return l.PageWidth - 2*l.Margin
}

// RenderResult describes one rendered document.
type RenderResult struct {
	Path  string
	Pages int
	Lines int
	// DroppedLines counts lines cut by TruncateOverflow.
	DroppedLines int
	// MissingGlyphs counts characters the font cannot draw; they are omitted.
	MissingGlyphs int
}

// Renderer lays translated text out onto new pages with a TrueType font.
type Renderer struct {
	fontPath string
	layout   Layout
	truncate bool
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithLayout overrides DefaultLayout.
func WithLayout(l Layout) RendererOption {
	return func(r *Renderer) { r.layout = l }
}

// WithTruncateOverflow keeps output to a single page, dropping lines that do
// not fit. By default overflowing text continues on further pages.
func WithTruncateOverflow(truncate bool) RendererOption {
	return func(r *Renderer) { r.truncate = truncate }
}

// NewRenderer creates a Renderer using the TTF font at fontPath.
func NewRenderer(fontPath string, opts ...RendererOption) *Renderer {
	r := &Renderer{fontPath: fontPath, layout: DefaultLayout()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes text to a new document at outputPath. Line breaks in text
// start new lines; long lines wrap at the margin. Nothing is written when
// the font cannot be loaded.
func (r *Renderer) Render(text, outputPath string) (*RenderResult, error) {
	fontData, face, err := r.loadFont()
	if err != nil {
		return nil, err
	}

	text, missing := dropMissingGlyphs(face, normalizeNewlines(text))
	if missing > 0 {
		logger.Warn("font has no glyph for some characters, omitting them",
			logger.String("font", filepath.Base(r.fontPath)),
			logger.Int("missing", missing))
	}

	doc, err := r.newDocument(fontData)
	if err != nil {
		return nil, err
	}

	lines, err := r.wrap(doc, text)
	if err != nil {
		return nil, err
	}

	pages := paginate(lines, r.layout.LinesPerPage())
	result := &RenderResult{Path: outputPath, Lines: len(lines), MissingGlyphs: missing}
	if r.truncate && len(pages) > 1 {
		for _, p := range pages[1:] {
			result.DroppedLines += len(p)
		}
		pages = pages[:1]
		logger.Warn("translated text overflows the page, truncating",
			logger.String("output", filepath.Base(outputPath)),
			logger.Int("droppedLines", result.DroppedLines))
	}
	result.Pages = len(pages)

	for _, pageLines := range pages {
		doc.AddPage()
		for i, line := range pageLines {
			if line == "" {
				continue
			}
			doc.SetXY(r.layout.Margin, r.layout.Margin+float64(i)*r.layout.Leading)
			if err := doc.Cell(nil, line); err != nil {
				return nil, NewPDFErrorWithDetails(ErrGenerateFailed, "failed to place text", line, err)
			}
		}
	}

	data, err := doc.GetBytesPdfReturnErr()
	if err != nil {
		return nil, NewPDFError(ErrGenerateFailed, "failed to serialize document", err)
	}
	if err := writeFileAtomic(outputPath, data); err != nil {
		return nil, NewPDFErrorWithDetails(ErrGenerateFailed, "failed to write document", outputPath, err)
	}

	logger.Debug("page rendered",
		logger.String("output", filepath.Base(outputPath)),
		logger.Int("pages", result.Pages),
		logger.Int("lines", result.Lines))
	return result, nil
}

// newDocument starts an empty document with the font selected at the layout size.
func (r *Renderer) newDocument(fontData []byte) (*gopdf.GoPdf, error) {
	doc := &gopdf.GoPdf{}
	doc.Start(gopdf.Config{
		PageSize: gopdf.Rect{W: r.layout.PageWidth, H: r.layout.PageHeight},
		Unit:     gopdf.UnitPT,
	})
	if err := doc.AddTTFFontData(fontFamily, fontData); err != nil {
		return nil, NewPDFErrorWithDetails(ErrFontFailed, "failed to load font", r.fontPath, err)
	}
	if err := doc.SetFont(fontFamily, "", r.layout.FontSize); err != nil {
		return nil, NewPDFErrorWithDetails(ErrFontFailed, "failed to select font", r.fontPath, err)
	}
	return doc, nil
}

func (r *Renderer) loadFont() ([]byte, *sfnt.Font, error) {
	data, err := os.ReadFile(r.fontPath)
	if err != nil {
		return nil, nil, NewPDFErrorWithDetails(ErrFontFailed, "failed to read font", r.fontPath, err)
	}
	face, err := sfnt.Parse(data)
	if err != nil {
		return nil, nil, NewPDFErrorWithDetails(ErrFontFailed, "not a TrueType/OpenType font", r.fontPath, err)
	}
	return data, face, nil
}

// wrap splits text into lines that fit the text width, breaking at spaces.
// Runs without spaces (CJK text, very long words) break between characters.
// Blank input lines are kept as empty lines.
func (r *Renderer) wrap(doc *gopdf.GoPdf, text string) ([]string, error) {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimRightFunc(para, unicode.IsSpace)
		if para == "" {
			lines = append(lines, "")
			continue
		}
		wrapped, err := doc.SplitTextWithWordWrap(para, r.layout.TextWidth())
		if err != nil {
			return nil, NewPDFErrorWithDetails(ErrGenerateFailed, "failed to wrap text", para, err)
		}
		for _, line := range wrapped {
			lines = append(lines, strings.TrimRightFunc(line, unicode.IsSpace))
		}
	}
	// trailing blank lines would only produce empty continuation pages
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func paginate(lines []string, perPage int) [][]string {
	if len(lines) == 0 {
		return [][]string{nil}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// dropMissingGlyphs removes characters the font maps to glyph 0 (.notdef).
// Whitespace is kept; it is handled by layout, not drawn.
func dropMissingGlyphs(face *sfnt.Font, text string) (string, int) {
	var buf sfnt.Buffer
	var sb strings.Builder
	missing := 0
	for _, ch := range text {
		if unicode.IsSpace(ch) {
			sb.WriteRune(ch)
			continue
		}
		idx, err := face.GlyphIndex(&buf, ch)
		if err != nil || idx == 0 {
			missing++
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String(), missing
}

// writeFileAtomic writes via a temp file in the same directory so a failed
// write never leaves a partial document at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
