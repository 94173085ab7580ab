package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pdf-page-translator/internal/failures"
	"pdf-page-translator/internal/pdf"
	"pdf-page-translator/internal/pdf/pdftest"
	"pdf-page-translator/internal/translator"
)

// fakeTranslator prefixes page text with "T:" and can be told to fail pages.
type fakeTranslator struct {
	mu        sync.Mutex
	calls     []int
	rawInputs []string
	failPage  int
	delay     func(page int) time.Duration

	inFlight    int32
	maxInFlight int32
}

func (f *fakeTranslator) TranslatePage(ctx context.Context, w pdf.ContextWindow) (*translator.Result, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&f.maxInFlight, peak, n) {
			break
		}
	}

	page := w.PageNumber()
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(page)):
		case <-ctx.Done():
			return nil, pdf.NewPDFErrorWithPage(pdf.ErrCancelled, "translation cancelled", page, ctx.Err())
		}
	}
	if page == f.failPage {
		return nil, pdf.NewPDFErrorWithPage(pdf.ErrAPIFailed, "API server error", page, nil)
	}
	return &translator.Result{Page: page, Text: "T:" + strings.TrimSpace(w.Current), Attempts: 1}, nil
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (*translator.Result, error) {
	f.mu.Lock()
	f.rawInputs = append(f.rawInputs, text)
	f.mu.Unlock()
	return &translator.Result{Text: "R:" + strings.TrimSpace(text), Attempts: 1}, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// textRenderer writes each translation as a one-page fixture document, so
// the tests need no TrueType font.
type textRenderer struct{}

func (textRenderer) Render(text, outputPath string) (*pdf.RenderResult, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, err
	}
	if err := pdftest.Write(outputPath, []string{text}); err != nil {
		return nil, pdf.NewPDFError(pdf.ErrGenerateFailed, "failed to write document", err)
	}
	return &pdf.RenderResult{Path: outputPath, Pages: 1, Lines: 1}, nil
}

type failingRenderer struct{}

func (failingRenderer) Render(string, string) (*pdf.RenderResult, error) {
	return nil, pdf.NewPDFError(pdf.ErrFontFailed, "failed to read font", nil)
}

type fixture struct {
	source  string
	workDir string
	output  string
}

func newFixture(t *testing.T, pages []string) fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "source.pdf")
	if err := pdftest.Write(source, pages); err != nil {
		t.Fatal(err)
	}
	return fixture{
		source:  source,
		workDir: filepath.Join(dir, "pages"),
		output:  filepath.Join(dir, "final_translated_document.pdf"),
	}
}

func (fx fixture) request() Request {
	return Request{Source: fx.source, Output: fx.output, WorkDir: fx.workDir, Start: 0, End: -1}
}

func outputTexts(t *testing.T, path string) []string {
	t.Helper()
	ex, err := pdf.NewExtractor(path)
	if err != nil {
		t.Fatalf("cannot open output: %v", err)
	}
	defer ex.Close()
	texts := make([]string, ex.PageCount())
	for i := range texts {
		text, err := ex.PageText(i)
		if err != nil {
			t.Fatal(err)
		}
		texts[i] = strings.TrimSpace(text)
	}
	return texts
}

func assertTexts(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("output pages = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output page %d = %q, want %q", i+1, got[i], want[i])
		}
	}
}

func TestRun_Sequential(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})
	tr := &fakeTranslator{}

	var progress []int
	p := New(tr, textRenderer{}, WithProgress(func(done, total int, _ string) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		progress = append(progress, done)
	}))

	summary, err := p.Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Translated != 3 || summary.Skipped != 0 || summary.Remaining != 0 || summary.Partial {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Output != fx.output {
		t.Errorf("output = %s", summary.Output)
	}
	assertTexts(t, outputTexts(t, fx.output), []string{"T:A", "T:B", "T:C"})

	if len(progress) != 3 || progress[2] != 3 {
		t.Errorf("progress = %v", progress)
	}
	for i := 1; i <= 3; i++ {
		if _, err := os.Stat(filepath.Join(fx.workDir, RenderedPageName(i))); err != nil {
			t.Errorf("rendered page %d missing: %v", i, err)
		}
	}
	if peak := atomic.LoadInt32(&tr.maxInFlight); peak != 1 {
		t.Errorf("sequential run had %d pages in flight", peak)
	}
}

func TestRun_SubRange(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C", "D"})
	tr := &fakeTranslator{}

	req := fx.request()
	req.Start, req.End = 1, 2
	if _, err := New(tr, textRenderer{}).Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	assertTexts(t, outputTexts(t, fx.output), []string{"T:B", "T:C"})
}

func TestRun_OutOfRange(t *testing.T) {
	fx := newFixture(t, []string{"A"})
	req := fx.request()
	req.End = 3

	_, err := New(&fakeTranslator{}, textRenderer{}).Run(context.Background(), req)
	if pdf.CodeOf(err) != pdf.ErrPageOutOfRange {
		t.Errorf("error = %v, want %s", err, pdf.ErrPageOutOfRange)
	}
}

func TestRun_Resume(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})

	first := &fakeTranslator{}
	if _, err := New(first, textRenderer{}).Run(context.Background(), fx.request()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := &fakeTranslator{}
	summary, err := New(second, textRenderer{}, WithResume(true)).Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	if second.callCount() != 0 || summary.Skipped != 3 {
		t.Errorf("resumed run translated %d pages, skipped %d", second.callCount(), summary.Skipped)
	}
	assertTexts(t, outputTexts(t, fx.output), []string{"T:A", "T:B", "T:C"})

	// a missing rendered page is translated again
	if err := os.Remove(filepath.Join(fx.workDir, RenderedPageName(2))); err != nil {
		t.Fatal(err)
	}
	third := &fakeTranslator{}
	summary, err = New(third, textRenderer{}, WithResume(true)).Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	if third.callCount() != 1 || third.calls[0] != 2 || summary.Skipped != 2 {
		t.Errorf("calls = %v, summary = %+v", third.calls, summary)
	}
}

func TestRun_WithoutResumeTranslatesEverything(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"})
	if _, err := New(&fakeTranslator{}, textRenderer{}).Run(context.Background(), fx.request()); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranslator{}
	if _, err := New(tr, textRenderer{}).Run(context.Background(), fx.request()); err != nil {
		t.Fatal(err)
	}
	if tr.callCount() != 2 {
		t.Errorf("calls = %d, want 2", tr.callCount())
	}
}

func TestRun_FailureAborts(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})
	tr := &fakeTranslator{failPage: 2}

	summary, err := New(tr, textRenderer{}).Run(context.Background(), fx.request())
	if !pdf.IsTranslationError(err) {
		t.Fatalf("error = %v, want translation error", err)
	}
	if tr.callCount() != 2 {
		t.Errorf("page 3 should not be attempted, calls = %v", tr.calls)
	}
	if summary.Translated != 1 || summary.Remaining != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if _, statErr := os.Stat(fx.output); !os.IsNotExist(statErr) {
		t.Error("output should not be written when a page fails")
	}
	if _, statErr := os.Stat(filepath.Join(fx.workDir, RenderedPageName(1))); statErr != nil {
		t.Errorf("page 1 should stay rendered: %v", statErr)
	}
	for _, page := range []int{2, 3} {
		if _, statErr := os.Stat(filepath.Join(fx.workDir, RenderedPageName(page))); !os.IsNotExist(statErr) {
			t.Errorf("no rendered file expected for page %d", page)
		}
	}

	fm, err := failures.NewManager(fx.workDir)
	if err != nil {
		t.Fatal(err)
	}
	record, ok := fm.Get(2)
	if !ok || record.Stage != failures.StageTranslate {
		t.Errorf("failure record = %+v, %v", record, ok)
	}

	cp, err := pdf.ReadCheckpoint(fx.workDir)
	if err != nil {
		t.Fatal(err)
	}
	if got := cp.Completed(); len(got) != 1 || got[0] != 1 {
		t.Errorf("checkpoint = %v, want [1]", got)
	}
}

func TestRun_AllowPartial(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})
	tr := &fakeTranslator{failPage: 2}

	summary, err := New(tr, textRenderer{}, WithAllowPartial(true)).Run(context.Background(), fx.request())
	if !pdf.IsTranslationError(err) {
		t.Fatalf("error = %v, want translation error", err)
	}
	if !summary.Partial || summary.Output != fx.output {
		t.Errorf("summary = %+v", summary)
	}
	assertTexts(t, outputTexts(t, fx.output), []string{"T:A"})
}

func TestRun_RenderFailureCarriesPage(t *testing.T) {
	fx := newFixture(t, []string{"A"})

	_, err := New(&fakeTranslator{}, failingRenderer{}).Run(context.Background(), fx.request())
	var pdfErr *pdf.PDFError
	if !errors.As(err, &pdfErr) || pdfErr.Page != 1 || !pdf.IsRenderError(err) {
		t.Errorf("error = %v, want render error for page 1", err)
	}
}

func TestRun_ConcurrentKeepsOrder(t *testing.T) {
	pages := []string{"A", "B", "C", "D", "E", "F"}
	fx := newFixture(t, pages)
	// earlier pages finish last
	tr := &fakeTranslator{delay: func(page int) time.Duration {
		return time.Duration(len(pages)-page) * 10 * time.Millisecond
	}}

	summary, err := New(tr, textRenderer{}, WithConcurrency(3)).Run(context.Background(), fx.request())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Translated != 6 {
		t.Errorf("summary = %+v", summary)
	}
	assertTexts(t, outputTexts(t, fx.output), []string{"T:A", "T:B", "T:C", "T:D", "T:E", "T:F"})
	if peak := atomic.LoadInt32(&tr.maxInFlight); peak > 3 || peak < 2 {
		t.Errorf("max pages in flight = %d, want 2..3", peak)
	}
	for i, res := range summary.Pages {
		if res.Page != i+1 {
			t.Errorf("summary page %d is %d", i, res.Page)
		}
	}
}

func TestRun_ConcurrentFailureReportsCause(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C", "D"})
	tr := &fakeTranslator{failPage: 1, delay: func(page int) time.Duration {
		if page == 1 {
			return 0
		}
		return time.Second
	}}

	start := time.Now()
	_, err := New(tr, textRenderer{}, WithConcurrency(2)).Run(context.Background(), fx.request())
	if pdf.CodeOf(err) != pdf.ErrAPIFailed {
		t.Errorf("error = %v, want %s", err, pdf.ErrAPIFailed)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("in-flight pages should be cancelled after a failure")
	}
}

func TestRun_Cancelled(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTranslator{}
	p := New(tr, textRenderer{}, WithProgress(func(done, _ int, _ string) {
		if done == 1 {
			cancel()
		}
	}))

	_, err := p.Run(ctx, fx.request())
	if pdf.CodeOf(err) != pdf.ErrCancelled {
		t.Errorf("error = %v, want %s", err, pdf.ErrCancelled)
	}
	if tr.callCount() != 1 {
		t.Errorf("calls = %d, want 1", tr.callCount())
	}
	fm, _ := failures.NewManager(fx.workDir)
	if len(fm.List()) != 0 {
		t.Error("cancellation should not be recorded as a page failure")
	}
}

func TestRetranslate(t *testing.T) {
	fx := newFixture(t, []string{"A", "B", "C"})
	if _, err := New(&fakeTranslator{}, textRenderer{}).Run(context.Background(), fx.request()); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTranslator{}
	out := filepath.Join(filepath.Dir(fx.output), "retranslated_document.pdf")
	summary, err := New(tr, textRenderer{}).Retranslate(context.Background(), RetranslateRequest{
		Source:  fx.source,
		Output:  out,
		WorkDir: fx.workDir,
		Pages:   []int{3, 2, 3},
	})
	if err != nil {
		t.Fatalf("Retranslate failed: %v", err)
	}
	if summary.Translated != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if len(tr.rawInputs) != 2 || strings.TrimSpace(tr.rawInputs[0]) != "C" {
		t.Errorf("raw inputs = %q", tr.rawInputs)
	}
	// pages keep the order they were listed in
	assertTexts(t, outputTexts(t, out), []string{"R:C", "R:B"})
	assertTexts(t, outputTexts(t, filepath.Join(fx.workDir, RenderedPageName(2))), []string{"R:B"})
}

func TestRetranslate_OutOfRange(t *testing.T) {
	fx := newFixture(t, []string{"A"})
	_, err := New(&fakeTranslator{}, textRenderer{}).Retranslate(context.Background(), RetranslateRequest{
		Source: fx.source, Output: fx.output, WorkDir: fx.workDir, Pages: []int{2},
	})
	if pdf.CodeOf(err) != pdf.ErrPageOutOfRange {
		t.Errorf("error = %v, want %s", err, pdf.ErrPageOutOfRange)
	}

	_, err = New(&fakeTranslator{}, textRenderer{}).Retranslate(context.Background(), RetranslateRequest{
		Source: fx.source, Output: fx.output, WorkDir: fx.workDir,
	})
	if pdf.CodeOf(err) != pdf.ErrPageOutOfRange {
		t.Errorf("empty page list: error = %v", err)
	}
}

func TestRetranslate_ClearsFailure(t *testing.T) {
	fx := newFixture(t, []string{"A", "B"})
	if _, err := New(&fakeTranslator{failPage: 2}, textRenderer{}).Run(context.Background(), fx.request()); err == nil {
		t.Fatal("expected first run to fail")
	}

	_, err := New(&fakeTranslator{}, textRenderer{}).Retranslate(context.Background(), RetranslateRequest{
		Source: fx.source, Output: fx.output, WorkDir: fx.workDir, Pages: []int{2},
	})
	if err != nil {
		t.Fatalf("Retranslate failed: %v", err)
	}
	fm, _ := failures.NewManager(fx.workDir)
	if _, ok := fm.Get(2); ok {
		t.Error("successful retranslation should clear the failure record")
	}
}

func TestRun_WorkDirLocked(t *testing.T) {
	fx := newFixture(t, []string{"A"})
	lock, err := pdf.LockWorkDir(fx.workDir)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Unlock()

	if _, err := New(&fakeTranslator{}, textRenderer{}).Run(context.Background(), fx.request()); err == nil {
		t.Error("run should fail while another run holds the work directory")
	}
}
