// Command plagctl compares source files locally or drives a plagcode server.
package main

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "plagctl [command]",
	Short:         "Source code similarity scans",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `plagctl fingerprints source files and reports pairwise similarity.
It runs the engine locally with "compare", or talks to a plagcode server.`,
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("PLAGCODE_SERVER", "http://localhost:8080"), "plagcode server URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().Bool("json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
