package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdf-page-translator/internal/pipeline"
	"pdf-page-translator/internal/types"
)

const defaultRetranslateOutput = "retranslated_document.pdf"

var retranslateCmd = &cobra.Command{
	Use:   "retranslate",
	Short: "Translate selected pages again",
	Long: `Retranslate translates the pages given by --pages again, replaces their
rendered documents in the work directory and merges only those pages into
--output. The pages are translated on their own, without neighbouring context.`,
	Example: `  pagetrans retranslate --pages 5,6
  pagetrans retranslate --pages 8-10 --output fixed.pdf`,
	RunE: runRetranslate,
}

func init() {
	addDocumentFlags(retranslateCmd)
	flags := retranslateCmd.Flags()
	flags.StringP("output", "o", defaultRetranslateOutput, "merged output document")
	flags.StringP("pages", "p", "", "pages to retranslate, e.g. 5,6,8-10 (1-based)")
	_ = retranslateCmd.MarkFlagRequired("pages")

	rootCmd.AddCommand(retranslateCmd)
}

func runRetranslate(cmd *cobra.Command, args []string) error {
	if err := configManager.Validate(); err != nil {
		return err
	}
	cfg := configManager.GetConfig()

	list, _ := cmd.Flags().GetString("pages")
	pages, err := parsePages(list)
	if err != nil {
		return types.NewAppError(types.ErrInvalidInput, "invalid --pages", err)
	}

	// output_path in the config file names the full document, not a retranslation
	output := defaultRetranslateOutput
	if cmd.Flags().Changed("output") {
		output = cfg.OutputPath
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	summary, runErr := p.Retranslate(ctx, pipeline.RetranslateRequest{
		Source:  cfg.SourcePath,
		Output:  output,
		WorkDir: cfg.WorkDir,
		Pages:   pages,
	})
	fmt.Fprintln(os.Stderr)
	printSummary(summary, runErr, cfg.WorkDir)
	return runErr
}
