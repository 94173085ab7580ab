// Package pipeline drives a translation run: it extracts each page's context
// window, translates it, renders the result to its own document in the work
// directory and finally merges the rendered pages in page order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"pdf-page-translator/internal/failures"
	"pdf-page-translator/internal/logger"
	"pdf-page-translator/internal/pdf"
	"pdf-page-translator/internal/translator"
)

// Translator translates page text.
type Translator interface {
	TranslatePage(ctx context.Context, w pdf.ContextWindow) (*translator.Result, error)
	Translate(ctx context.Context, text string) (*translator.Result, error)
}

// Renderer writes translated text to a document.
type Renderer interface {
	Render(text, outputPath string) (*pdf.RenderResult, error)
}

// Assembler merges rendered documents.
type Assembler interface {
	Assemble(inputs []string, outputPath string) error
}

// ProgressFunc is called after each page finishes.
// done: pages finished so far; total: pages in the run.
type ProgressFunc func(done, total int, message string)

// Pipeline runs page translation jobs.
type Pipeline struct {
	translator   Translator
	renderer     Renderer
	assembler    Assembler
	concurrency  int
	resume       bool
	allowPartial bool
	progress     ProgressFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets how many pages are processed at once. 1 (the default)
// processes pages strictly one after another.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithResume skips pages the work directory's checkpoint records as done.
func WithResume(resume bool) Option {
	return func(p *Pipeline) { p.resume = resume }
}

// WithAllowPartial assembles the completed pages even when a page fails.
func WithAllowPartial(allow bool) Option {
	return func(p *Pipeline) { p.allowPartial = allow }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithAssembler replaces the pdfcpu assembler.
func WithAssembler(a Assembler) Option {
	return func(p *Pipeline) { p.assembler = a }
}

// New creates a Pipeline.
func New(tr Translator, r Renderer, opts ...Option) *Pipeline {
	p := &Pipeline{
		translator:  tr,
		renderer:    r,
		assembler:   pdf.NewAssembler(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request describes one run.
type Request struct {
	Source  string
	Output  string
	WorkDir string
	// Start and End are 0-based inclusive page indices. End < 0 means the last page.
	Start int
	End   int
}

// PageResult is the outcome of one page.
type PageResult struct {
	Page           int    `json:"page"`
	RenderedPath   string `json:"rendered_path"`
	RenderedPages  int    `json:"rendered_pages"`
	FromCheckpoint bool   `json:"from_checkpoint"`
	Attempts       int    `json:"attempts"`
	Tokens         int    `json:"tokens"`
}

// Summary describes a finished (or partially finished) run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Output     string        `json:"output"`
	Pages      []PageResult  `json:"pages"`
	Translated int           `json:"translated"`
	Skipped    int           `json:"skipped"`
	Remaining  int           `json:"remaining"`
	Partial    bool          `json:"partial"`
	Duration   time.Duration `json:"duration"`
}

// RenderedPageName is the file name used for a rendered source page.
func RenderedPageName(page int) string {
	return fmt.Sprintf("translated_page_%d.pdf", page)
}

// run holds the state shared by the pages of one Run.
type run struct {
	workDir    string
	checkpoint *pdf.Checkpoint
	failures   *failures.Manager
	total      int
	log        logger.Logger

	mu   sync.Mutex
	done int
}

// Run translates the requested pages and writes the merged output.
//
// A failing page stops the run and cancels pages still in flight. The
// failure is recorded in the work directory. Unless partial output is
// allowed nothing is merged; otherwise the completed pages are merged and
// the error is returned together with the summary.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Summary, error) {
	started := time.Now()

	lock, err := pdf.LockWorkDir(req.WorkDir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	fm, err := failures.NewManager(req.WorkDir)
	if err != nil {
		return nil, err
	}

	ex, err := pdf.NewExtractor(req.Source)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	end := req.End
	if end < 0 {
		end = ex.PageCount() - 1
	}
	it, err := ex.Windows(req.Start, end)
	if err != nil {
		return nil, err
	}

	cp := pdf.NewCheckpoint(req.WorkDir, req.Source)
	if p.resume {
		if err := cp.Load(); err != nil {
			return nil, err
		}
	}

	r := &run{
		workDir:    req.WorkDir,
		checkpoint: cp,
		failures:   fm,
		total:      end - req.Start + 1,
		log:        logger.With(logger.String("runID", cp.RunID())),
	}
	r.log.Info("starting translation run",
		logger.String("source", req.Source),
		logger.Int("firstPage", req.Start+1),
		logger.Int("lastPage", end+1),
		logger.Int("concurrency", p.concurrency),
		logger.Bool("resume", p.resume))

	var results []*PageResult
	var runErr error
	if p.concurrency <= 1 {
		results, runErr = p.runSequential(ctx, r, it)
	} else {
		results, runErr = p.runConcurrent(ctx, r, it)
	}

	summary := &Summary{RunID: cp.RunID(), Duration: time.Since(started)}
	var rendered []string
	for _, res := range results {
		if res == nil {
			continue
		}
		summary.Pages = append(summary.Pages, *res)
		rendered = append(rendered, res.RenderedPath)
		if res.FromCheckpoint {
			summary.Skipped++
		} else {
			summary.Translated++
		}
	}
	summary.Remaining = r.total - len(summary.Pages)

	if runErr != nil {
		r.recordFailure(runErr)
		if !p.allowPartial || len(rendered) == 0 {
			r.log.Error("translation run aborted", runErr,
				logger.Int("completed", len(summary.Pages)),
				logger.Int("total", r.total))
			return summary, runErr
		}
		summary.Partial = true
		r.log.Warn("translation run incomplete, assembling completed pages",
			logger.Int("completed", len(summary.Pages)),
			logger.Int("total", r.total),
			logger.Err(runErr))
	}

	if err := p.assembler.Assemble(rendered, req.Output); err != nil {
		r.recordFailure(err)
		return summary, err
	}
	summary.Output = req.Output
	summary.Duration = time.Since(started)

	r.log.Info("translation run finished",
		logger.String("output", req.Output),
		logger.Int("translated", summary.Translated),
		logger.Int("skipped", summary.Skipped),
		logger.Int("remaining", summary.Remaining),
		logger.Duration("took", summary.Duration))
	return summary, runErr
}

// runSequential handles one page at a time: extract, translate, render, record.
func (p *Pipeline) runSequential(ctx context.Context, r *run, it *pdf.PageWindows) ([]*PageResult, error) {
	var results []*PageResult
	for it.Next() {
		res, err := p.processPage(ctx, r, it.Window())
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, it.Err()
}

// runConcurrent extracts pages in order and hands them to at most
// concurrency workers. Results are stored by index so the rendered pages
// keep source order regardless of completion order.
func (p *Pipeline) runConcurrent(ctx context.Context, r *run, it *pdf.PageWindows) ([]*PageResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*PageResult, r.total)
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	var errMu sync.Mutex
	var firstErr error
	fail := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		// pages cancelled because of an earlier failure are not the cause
		if firstErr == nil || (pdf.CodeOf(firstErr) == pdf.ErrCancelled && pdf.CodeOf(err) != pdf.ErrCancelled) {
			firstErr = err
		}
		cancel()
	}

	i := 0
feed:
	for it.Next() {
		w := it.Window()
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break feed
		}

		wg.Add(1)
		go func(idx int, w pdf.ContextWindow) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := p.processPage(runCtx, r, w)
			if err != nil {
				fail(err)
				return
			}
			results[idx] = res
		}(i, w)
		i++
	}
	if err := it.Err(); err != nil {
		fail(err)
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = pdf.NewPDFError(pdf.ErrCancelled, "run cancelled", ctx.Err())
	}
	return results, firstErr
}

// processPage translates and renders one page, or reuses the checkpointed
// result when resuming.
func (p *Pipeline) processPage(ctx context.Context, r *run, w pdf.ContextWindow) (*PageResult, error) {
	page := w.PageNumber()
	if err := ctx.Err(); err != nil {
		return nil, pdf.NewPDFErrorWithPage(pdf.ErrCancelled, "run cancelled", page, err)
	}

	outPath := filepath.Join(r.workDir, RenderedPageName(page))
	if p.resume && r.checkpoint.IsComplete(page, w.Current) {
		r.log.Debug("page already translated, skipping", logger.Page(page))
		entry, _ := r.checkpoint.Get(page)
		r.finish(p.progress, fmt.Sprintf("page %d reused from checkpoint", page))
		return &PageResult{Page: page, RenderedPath: entry.RenderedPath, FromCheckpoint: true}, nil
	}

	tr, err := p.translator.TranslatePage(ctx, w)
	if err != nil {
		return nil, withPage(err, page)
	}

	rendered, err := p.renderer.Render(tr.Text, outPath)
	if err != nil {
		return nil, withPage(err, page)
	}

	if err := r.checkpoint.Mark(page, w.Current, tr.Text, outPath); err != nil {
		r.log.Warn("failed to update checkpoint", logger.Page(page), logger.Err(err))
	}
	if err := r.failures.Remove(page); err != nil {
		r.log.Warn("failed to update failure log", logger.Page(page), logger.Err(err))
	}

	r.finish(p.progress, fmt.Sprintf("page %d translated", page))
	return &PageResult{
		Page:          page,
		RenderedPath:  outPath,
		RenderedPages: rendered.Pages,
		Attempts:      tr.Attempts,
		Tokens:        tr.Tokens,
	}, nil
}

func (r *run) finish(progress ProgressFunc, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	if progress != nil {
		progress(r.done, r.total, msg)
	}
}

// recordFailure writes err to the failure log. Cancellations are not failures
// of the page itself and are skipped.
func (r *run) recordFailure(err error) {
	if pdf.CodeOf(err) == pdf.ErrCancelled {
		return
	}
	page := 0
	var pdfErr *pdf.PDFError
	if errors.As(err, &pdfErr) {
		page = pdfErr.Page
	}
	if recErr := r.failures.RecordFailure(page, err); recErr != nil {
		r.log.Warn("failed to record failure", logger.Page(page), logger.Err(recErr))
	}
}

// withPage attaches page to a PDFError that does not name one yet.
func withPage(err error, page int) error {
	var pdfErr *pdf.PDFError
	if !errors.As(err, &pdfErr) || pdfErr.Page != 0 {
		return err
	}
	copied := *pdfErr
	copied.Page = page
	return &copied
}

// RetranslateRequest describes a retranslation of selected pages.
type RetranslateRequest struct {
	Source  string
	Output  string
	WorkDir string
	// Pages are 1-based page numbers.
	Pages []int
}

// Retranslate translates the listed pages again, without neighbouring
// context, replaces their rendered documents in the work directory and
// merges just those pages into req.Output in the order they are listed.
// A page listed twice is handled once.
func (p *Pipeline) Retranslate(ctx context.Context, req RetranslateRequest) (*Summary, error) {
	started := time.Now()
	pages := uniquePages(req.Pages)
	if len(pages) == 0 {
		return nil, pdf.NewPDFError(pdf.ErrPageOutOfRange, "no pages to retranslate", nil)
	}

	lock, err := pdf.LockWorkDir(req.WorkDir)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	fm, err := failures.NewManager(req.WorkDir)
	if err != nil {
		return nil, err
	}

	ex, err := pdf.NewExtractor(req.Source)
	if err != nil {
		return nil, err
	}
	defer ex.Close()

	for _, page := range pages {
		if page < 1 || page > ex.PageCount() {
			return nil, pdf.NewPDFErrorWithDetails(pdf.ErrPageOutOfRange, "page out of range",
				fmt.Sprintf("page %d, document has %d pages", page, ex.PageCount()), nil)
		}
	}

	cp := pdf.NewCheckpoint(req.WorkDir, req.Source)
	if err := cp.Load(); err != nil {
		return nil, err
	}
	r := &run{
		workDir:    req.WorkDir,
		checkpoint: cp,
		failures:   fm,
		total:      len(pages),
		log:        logger.With(logger.String("runID", cp.RunID())),
	}

	r.log.Info("retranslating pages",
		logger.String("pages", failures.FormatPages(pages)),
		logger.String("output", req.Output))

	summary := &Summary{RunID: cp.RunID()}
	var rendered []string
	for _, page := range pages {
		if _, failedBefore := fm.Get(page); failedBefore {
			if err := fm.IncrementRetry(page); err != nil {
				r.log.Warn("failed to update failure log", logger.Page(page), logger.Err(err))
			}
		}
		res, err := p.retranslatePage(ctx, r, ex, page)
		if err != nil {
			r.recordFailure(err)
			summary.Remaining = len(pages) - len(summary.Pages)
			summary.Duration = time.Since(started)
			return summary, err
		}
		summary.Pages = append(summary.Pages, *res)
		summary.Translated++
		rendered = append(rendered, res.RenderedPath)
	}

	if err := p.assembler.Assemble(rendered, req.Output); err != nil {
		r.recordFailure(err)
		return summary, err
	}
	summary.Output = req.Output
	summary.Duration = time.Since(started)
	return summary, nil
}

func (p *Pipeline) retranslatePage(ctx context.Context, r *run, ex *pdf.Extractor, page int) (*PageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, pdf.NewPDFErrorWithPage(pdf.ErrCancelled, "run cancelled", page, err)
	}
	text, err := ex.PageText(page - 1)
	if err != nil {
		return nil, withPage(err, page)
	}

	tr, err := p.translator.Translate(ctx, text)
	if err != nil {
		return nil, withPage(err, page)
	}

	outPath := filepath.Join(r.workDir, RenderedPageName(page))
	rendered, err := p.renderer.Render(tr.Text, outPath)
	if err != nil {
		return nil, withPage(err, page)
	}

	if err := r.checkpoint.Mark(page, text, tr.Text, outPath); err != nil {
		r.log.Warn("failed to update checkpoint", logger.Page(page), logger.Err(err))
	}
	if err := r.failures.Remove(page); err != nil {
		r.log.Warn("failed to update failure log", logger.Page(page), logger.Err(err))
	}
	r.finish(p.progress, fmt.Sprintf("page %d retranslated", page))

	return &PageResult{
		Page:          page,
		RenderedPath:  outPath,
		RenderedPages: rendered.Pages,
		Attempts:      tr.Attempts,
		Tokens:        tr.Tokens,
	}, nil
}

// uniquePages drops repeated pages, keeping the first occurrence of each.
func uniquePages(pages []int) []int {
	seen := make(map[int]bool, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
