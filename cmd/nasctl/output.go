package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"
)

type printer struct {
	format string
	w      io.Writer
}

// print renders v as JSON or YAML, or calls table for the human format.
func (p printer) print(v any, table func(tw *tabwriter.Writer)) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func (p printer) human() bool { return p.format != "json" && p.format != "yaml" }

// done prints a success line in the human format only.
func (p printer) done(format string, args ...any) {
	if p.human() {
		fmt.Fprintf(p.w, "✓ "+format+"\n", args...)
	}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// formatUptime renders seconds as "1d 2h 3m", dropping leading zero units.
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// usageColor follows the dashboard thresholds: green below 50%, yellow below
// 80%, red from there on.
func usageColor(pct float64) *color.Color {
	switch {
	case pct < 50:
		return color.New(color.FgGreen)
	case pct < 80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func colorPercent(pct float64) string {
	return usageColor(pct).Sprintf("%5.1f%%", pct)
}

// usageBar draws a static bar for pct on its own line.
func usageBar(w io.Writer, label string, pct float64, detail string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription(fmt.Sprintf("%-8s", label)),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{Saucer: "█", SaucerPadding: "░", BarStart: "[", BarEnd: "]"}),
	)
	_ = bar.Set(int(pct))
	fmt.Fprintf(w, " %s %s\n", colorPercent(pct), detail)
}

func statusWord(ok bool, yes, no string) string {
	if ok {
		return color.GreenString(yes)
	}
	return color.RedString(no)
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, ",")
}

// transferBar reports byte progress on w. A negative size shows a spinner.
func transferBar(w io.Writer, size int64, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(w, "\n") }),
	)
}
