package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pdf-page-translator/internal/config"
	"pdf-page-translator/internal/failures"
	"pdf-page-translator/internal/pdf"
	"pdf-page-translator/internal/pipeline"
	"pdf-page-translator/internal/translator"
	"pdf-page-translator/internal/types"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a page range and merge the result",
	Long: `Translate extracts every page in [--start, --end] (1-based, inclusive; by
default the whole document), translates it with the neighbouring pages as
context, renders each translation into the work directory and merges the
rendered pages into --output.

A failing page stops the run. Rerun with --resume to continue from the pages
already finished, or pass --partial to merge whatever was finished.`,
	RunE: runTranslate,
}

func init() {
	addDocumentFlags(translateCmd)
	flags := translateCmd.Flags()
	flags.StringP("output", "o", config.DefaultOutputPath, "merged output document")
	flags.Int("start", 1, "first page to translate (1-based)")
	flags.Int("end", 0, "last page to translate (1-based, 0 for the last page)")
	flags.IntP("concurrency", "j", config.DefaultConcurrency, "pages translated at once")
	flags.Bool("resume", false, "skip pages finished by an earlier run in the same work directory")
	flags.Bool("partial", false, "merge the finished pages even if a page fails")

	rootCmd.AddCommand(translateCmd)
}

// addDocumentFlags registers the flags shared by commands that read the
// source document and render pages.
func addDocumentFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("source", "s", config.DefaultSourcePath, "source PDF")
	flags.String("work-dir", config.DefaultWorkDir, "directory for rendered pages, checkpoint and failure log")
	flags.String("font", config.DefaultFontPath, "TrueType font used to render translations")
	flags.Bool("truncate-overflow", false, "cut translations that do not fit on one page instead of continuing on a new page")
	flags.String("model", config.DefaultModel, "chat model")
	flags.String("target-language", config.DefaultTargetLanguage, "language to translate into")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	if err := configManager.Validate(); err != nil {
		return err
	}
	cfg := configManager.GetConfig()

	start, _ := cmd.Flags().GetInt("start")
	end, _ := cmd.Flags().GetInt("end")
	if start < 1 {
		return types.NewAppError(types.ErrInvalidInput, "--start must be at least 1", nil)
	}
	if end != 0 && end < start {
		return types.NewAppError(types.ErrInvalidInput, "--end must not be before --start", nil)
	}
	resume, _ := cmd.Flags().GetBool("resume")
	partial, _ := cmd.Flags().GetBool("partial")

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cfg,
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithResume(resume),
		pipeline.WithAllowPartial(partial))
	if err != nil {
		return err
	}

	summary, runErr := p.Run(ctx, pipeline.Request{
		Source:  cfg.SourcePath,
		Output:  cfg.OutputPath,
		WorkDir: cfg.WorkDir,
		Start:   start - 1,
		End:     end - 1,
	})
	fmt.Fprintln(os.Stderr)
	printSummary(summary, runErr, cfg.WorkDir)
	return runErr
}

// newPipeline wires the chat model translator, the font renderer and the
// pdfcpu assembler from configuration.
func newPipeline(ctx context.Context, cfg *types.Config, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	engine, err := translator.NewTranslationEngine(ctx, translator.ConfigFromApp(cfg))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.FontPath); err != nil {
		return nil, pdf.NewPDFErrorWithDetails(pdf.ErrFontFailed, "font not found", cfg.FontPath, err)
	}
	renderer := pdf.NewRenderer(cfg.FontPath, pdf.WithTruncateOverflow(cfg.TruncateOverflow))

	opts = append(opts, pipeline.WithProgress(printProgress))
	return pipeline.New(engine, renderer, opts...), nil
}

func printProgress(done, total int, message string) {
	fmt.Fprintf(os.Stderr, "\r\033[K%s %s", color.CyanString("[%d/%d]", done, total), message)
}

func printSummary(s *pipeline.Summary, runErr error, workDir string) {
	if s == nil {
		return
	}
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("translated %s page(s), reused %s from checkpoint", green(s.Translated), green(s.Skipped))
	if s.Remaining > 0 {
		fmt.Printf(", %s not finished", yellow(s.Remaining))
	}
	fmt.Printf(" in %s\n", s.Duration.Round(time.Millisecond))

	switch {
	case s.Output != "" && s.Partial:
		fmt.Printf("%s partial output written to %s\n", yellow("!"), s.Output)
	case s.Output != "":
		fmt.Printf("%s output written to %s\n", green("✓"), s.Output)
	}

	if runErr != nil {
		if fm, err := failures.NewManager(workDir); err == nil {
			if pages := fm.RetryablePages(); len(pages) > 0 {
				fmt.Printf("retry with: pagetrans translate --resume   or   pagetrans retranslate --pages %s\n",
					failures.FormatPages(pages))
			}
		}
	}
}
