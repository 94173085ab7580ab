package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the resolved configuration to a config file",
	Long: `init-config writes the configuration currently in effect (defaults, config
file, environment and flags) to --config, or ./pagetrans.yaml. The API key is
left out; keep it in OPENAI_API_KEY or a .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *configManager.GetConfig()
		cfg.OpenAIAPIKey = ""
		configManager.SetConfig(&cfg)
		if err := configManager.Save(); err != nil {
			return err
		}
		fmt.Printf("configuration written to %s\n", configManager.GetConfigPath())
		return nil
	},
}

func init() {
	addDocumentFlags(initConfigCmd)
	initConfigCmd.Flags().StringP("output", "o", "", "merged output document")
	initConfigCmd.Flags().IntP("concurrency", "j", 0, "pages translated at once")
	rootCmd.AddCommand(initConfigCmd)
}
