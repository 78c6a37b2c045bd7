package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RishiKendai/plagcode/internal/client"
	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(server, timeout)
}

var submitCmd = &cobra.Command{
	Use:   "submit [files...]",
	Short: "Upload files to the server and start a scan",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ignoreComments, _ := cmd.Flags().GetBool("ignore-comments")
		normalizeIDs, _ := cmd.Flags().GetBool("normalize-identifiers")
		language, _ := cmd.Flags().GetString("language")
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("poll-interval")
		asJSON, _ := cmd.Flags().GetBool("json")

		uploads := make([]models.Upload, 0, len(args))
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			uploads = append(uploads, models.Upload{Name: filepath.Base(path), Content: content})
		}

		c := apiClient(cmd)
		ctx := cmd.Context()
		scanID, err := c.CreateScan(ctx, uploads, models.ScanOptions{
			AutoDetectLanguage:   language == "",
			IgnoreComments:       ignoreComments,
			NormalizeIdentifiers: normalizeIDs,
			Language:             language,
		})
		if err != nil {
			return err
		}
		if !wait {
			if asJSON {
				return printJSON(models.CreateScanResponse{ScanID: scanID})
			}
			color.Green("Scan %s queued with %d files", scanID, len(uploads))
			return nil
		}

		bar := newBar("Scanning", 100)
		status, err := c.WaitForTerminal(ctx, scanID, interval, func(s *models.StatusResponse) {
			_ = bar.Set(s.Progress)
		})
		_ = bar.Finish()
		_ = bar.Clear()
		if err != nil {
			return err
		}
		if status.Status != models.StatusComplete {
			renderLogs(os.Stderr, status.Logs)
			return fmt.Errorf("scan %s ended %s", scanID, status.Status)
		}
		return showResults(cmd, c, scanID)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [scan-id]",
	Short: "Show the status and log of a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient(cmd).Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(status)
		}
		statusColor(status.Status).Printf("%s", status.Status)
		fmt.Printf("  %d%%\n", status.Progress)
		renderLogs(os.Stdout, status.Logs)
		return nil
	},
}

var resultsCmd = &cobra.Command{
	Use:   "results [scan-id]",
	Short: "Print the pair table of a complete scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showResults(cmd, apiClient(cmd), args[0])
	},
}

func showResults(cmd *cobra.Command, c *client.Client, scanID string) error {
	res, err := c.Results(cmd.Context(), scanID)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(res)
	}
	for _, name := range res.Meta.Excluded {
		color.Yellow("Excluded unreadable file %s", name)
	}
	renderPairs(os.Stdout, res.Pairs)
	renderSummary(os.Stdout, res.Pairs)
	fmt.Printf("Runtime: %s\n", time.Duration(res.Meta.RuntimeMS)*time.Millisecond)
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [scan-id]",
	Short: "Cancel a queued or running scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient(cmd).Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		color.Green("Scan %s %s", resp.ScanID, resp.Status)
		return nil
	},
}

var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "List recent scans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		scans, err := apiClient(cmd).Scans(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(models.ScansResponse{Scans: scans})
		}
		if len(scans) == 0 {
			color.Yellow("No scans found")
			return nil
		}
		renderScans(os.Stdout, scans)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		query, _ := cmd.Flags().GetString("query")
		alerts, err := apiClient(cmd).Alerts(cmd.Context(), limit, query)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(models.AlertsResponse{Alerts: alerts})
		}
		if len(alerts) == 0 {
			color.Green("No alerts")
			return nil
		}
		renderAlerts(os.Stdout, alerts)
		return nil
	},
}

func init() {
	submitCmd.Flags().Bool("ignore-comments", true, "Drop comments before fingerprinting")
	submitCmd.Flags().Bool("normalize-identifiers", false, "Rename identifiers by first appearance")
	submitCmd.Flags().String("language", "", "Treat every file as this language")
	submitCmd.Flags().Bool("wait", false, "Wait for the scan and print its results")
	submitCmd.Flags().Duration("poll-interval", time.Second, "Status poll interval with --wait")

	scansCmd.Flags().Int("limit", 50, "Maximum scans to list")
	alertsCmd.Flags().Int("limit", 200, "Maximum alerts to list")
	alertsCmd.Flags().StringP("query", "q", "", "Case-insensitive text filter")

	rootCmd.AddCommand(submitCmd, statusCmd, resultsCmd, cancelCmd, scansCmd, alertsCmd)
}
