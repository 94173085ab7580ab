// Command pagetrans translates a PDF page by page: each page's text is sent
// to a chat completion service together with the end of the page before it
// and the start of the page after it, the translation is rendered onto a new
// page, and the rendered pages are merged into one document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pdf-page-translator/internal/config"
	"pdf-page-translator/internal/logger"
	"pdf-page-translator/internal/types"
)

// version is set at build time via ldflags.
var version = "dev"

// configManager is loaded once per invocation in PersistentPreRunE.
var configManager *config.ConfigManager

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"source_path":       "source",
	"output_path":       "output",
	"work_dir":          "work-dir",
	"font_path":         "font",
	"concurrency":       "concurrency",
	"truncate_overflow": "truncate-overflow",
	"openai_model":      "model",
	"target_language":   "target-language",
	"log_level":         "log-level",
	"log_file":          "log-file",
}

var rootCmd = &cobra.Command{
	Use:     "pagetrans",
	Short:   "Translate a PDF page by page",
	Version: version,
	Long: `pagetrans extracts the text of every page of a PDF, translates it with an
OpenAI-compatible chat model using the neighbouring pages as context, renders
each translation onto a new Letter page and merges the pages into one document.

The API key is read from OPENAI_API_KEY (or PAGETRANS_OPENAI_API_KEY, a .env
file, or openai_api_key in pagetrans.yaml). It is never taken from a flag.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		cfgFile, _ := cmd.Flags().GetString("config")
		cm, err := config.NewConfigManager(cfgFile)
		if err != nil {
			return err
		}
		if err := cm.BindFlags(cmd.Flags(), flagKeys); err != nil {
			return err
		}
		if err := cm.Load(); err != nil {
			return err
		}
		configManager = cm

		verbose, _ := cmd.Flags().GetBool("verbose")
		return initLogger(cm.GetConfig(), verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./pagetrans.yaml or ~/.config/pagetrans/pagetrans.yaml)")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-file", config.DefaultLogFile, "log file, empty to disable")
	flags.BoolP("verbose", "v", false, "mirror log output to stderr")
}

func initLogger(cfg *types.Config, verbose bool) error {
	logCfg := logger.DefaultConfig()
	logCfg.LogFilePath = cfg.LogFile
	logCfg.Level = logger.ParseLevel(cfg.LogLevel)
	logCfg.Console = nil
	if verbose {
		logCfg.Console = os.Stderr
	}
	return logger.Init(logCfg)
}

// signalContext is cancelled on SIGINT/SIGTERM so a run stops cleanly and
// its checkpoint stays usable for --resume.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		logger.Close()
		os.Exit(1)
	}
}
