package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newBar(label string, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(label),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.Off},
			},
		}),
	)
}

func labelColor(l models.Label) *color.Color {
	switch l {
	case models.LabelHigh:
		return color.New(color.FgRed, color.Bold)
	case models.LabelMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func statusColor(s models.ScanStatus) *color.Color {
	switch s {
	case models.StatusComplete:
		return color.New(color.FgGreen)
	case models.StatusFailed:
		return color.New(color.FgRed)
	case models.StatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func renderPairs(w io.Writer, rows []models.PairResult) {
	if len(rows) == 0 {
		color.Yellow("No pairs")
		return
	}
	table := newTable(w)
	table.Header([]string{"File A", "File B", "Similarity", "Label", "Spans"})
	for _, row := range rows {
		_ = table.Append([]string{
			row.FileA,
			row.FileB,
			fmt.Sprintf("%.1f%%", row.Similarity),
			labelColor(row.Label).Sprint(row.Label),
			strconv.Itoa(len(row.OverlapSpans)),
		})
	}
	_ = table.Render()
	fmt.Fprintln(w)
}

// renderSummary prints mean, median, spread and max similarity over rows
func renderSummary(w io.Writer, rows []models.PairResult) {
	if len(rows) == 0 {
		return
	}
	sims := make([]float64, len(rows))
	for i, row := range rows {
		sims[i] = row.Similarity
	}
	sort.Float64s(sims)

	summary := plagiarism.Summarize(rows)
	median := stat.Quantile(0.5, stat.Empirical, sims, nil)
	stddev := 0.0
	if len(sims) > 1 {
		stddev = stat.StdDev(sims, nil)
	}

	fmt.Fprintf(w, "Pairs: %d  High risk: ", len(rows))
	labelColor(models.LabelHigh).Fprintf(w, "%d", summary.HighRiskCount)
	fmt.Fprintf(w, "\nMean: %.1f%%  Median: %.1f%%  Std dev: %.1f  Max: %.1f%%\n",
		summary.MeanSimilarity, median, stddev, summary.TopSimilarity)
}

func renderLogs(w io.Writer, logs []models.LogEntry) {
	for _, l := range logs {
		fmt.Fprintf(w, "  %s  %s\n", l.Time, l.Message)
	}
}

func renderScans(w io.Writer, scans []models.ScanSummary) {
	table := newTable(w)
	table.Header([]string{"Scan", "Created", "Status", "Progress", "Files", "Pairs", "High Risk", "Top", "Runtime"})
	for _, s := range scans {
		_ = table.Append([]string{
			s.ScanID,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			statusColor(s.Status).Sprint(s.Status),
			fmt.Sprintf("%d%%", s.Progress),
			strconv.Itoa(s.FileCount),
			strconv.Itoa(s.PairCount),
			strconv.Itoa(s.HighRiskCount),
			fmt.Sprintf("%.1f%%", s.TopSimilarity),
			fmt.Sprintf("%dms", s.RuntimeMS),
		})
	}
	_ = table.Render()
}

func renderAlerts(w io.Writer, alerts []models.AlertView) {
	table := newTable(w)
	table.Header([]string{"Created", "Service", "Code", "Scan", "Message"})
	for _, a := range alerts {
		scanID := "-"
		if a.ScanID != nil {
			scanID = *a.ScanID
		}
		_ = table.Append([]string{
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			a.Service,
			color.RedString(a.ErrorCode),
			scanID,
			a.Message,
		})
	}
	_ = table.Render()
}
