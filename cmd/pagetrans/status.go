package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pdf-page-translator/internal/config"
	"pdf-page-translator/internal/failures"
	"pdf-page-translator/internal/pdf"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show finished and failed pages of the work directory",
	RunE:  runStatus,
}

func init() {
	flags := statusCmd.Flags()
	flags.String("work-dir", config.DefaultWorkDir, "work directory to inspect")
	flags.Bool("clear-failures", false, "clear the failure log after printing it")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	workDir := configManager.GetConfig().WorkDir

	if _, err := os.Stat(workDir); os.IsNotExist(err) {
		fmt.Printf("no run recorded in %s\n", workDir)
		return nil
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	cp, err := pdf.ReadCheckpoint(workDir)
	if err != nil {
		return err
	}
	completed := cp.Completed()
	fmt.Printf("%s %s\n", bold("work directory:"), workDir)
	if src := cp.SourcePath(); src != "" {
		fmt.Printf("%s %s", bold("source:"), src)
		if info, err := pdf.GetPDFInfo(src); err == nil {
			fmt.Printf(" (%d pages)", info.PageCount)
			if !info.IsTextPDF {
				fmt.Printf(" %s", color.YellowString("no extractable text"))
			}
		}
		fmt.Println()
	}
	if len(completed) > 0 {
		fmt.Printf("%s %s (run %s)\n", bold("finished pages:"),
			green(failures.FormatPages(completed)), cp.RunID())
	} else {
		fmt.Printf("%s none\n", bold("finished pages:"))
	}

	fm, err := failures.NewManager(workDir)
	if err != nil {
		return err
	}
	records := fm.List()
	if len(records) == 0 {
		fmt.Printf("%s none\n", bold("failures:"))
		return nil
	}

	fmt.Printf("%s\n", bold("failures:"))
	for _, rec := range records {
		where := fmt.Sprintf("page %d", rec.Page)
		if rec.Page == 0 {
			where = "document"
		}
		fmt.Printf("  %s %s during %s: %s", red("✗"), where,
			failures.GetStageDisplayName(rec.Stage), rec.ErrorMsg)
		if rec.RetryCount > 0 {
			fmt.Printf(" (retried %d times)", rec.RetryCount)
		}
		fmt.Println()
	}
	if pages := fm.RetryablePages(); len(pages) > 0 {
		fmt.Printf("retry with: pagetrans retranslate --pages %s\n", failures.FormatPages(pages))
	}

	if reset, _ := cmd.Flags().GetBool("clear-failures"); reset {
		if err := fm.ClearAll(); err != nil {
			return err
		}
		fmt.Println("failure log cleared")
	}
	return nil
}
