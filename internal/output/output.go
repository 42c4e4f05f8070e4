// Package output provides styled terminal output for the command line tool using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// statusLogLines is how many log lines Status prints.
const statusLogLines = 10

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))

	severityStyles = map[sync.Severity]lipgloss.Style{
		sync.SeverityInfo:    infoStyle,
		sync.SeveritySuccess: successStyle,
		sync.SeverityWarning: warningStyle,
		sync.SeverityError:   errorStyle,
	}
)

// Success prints a success message.
func Success(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func Warning(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Info prints a plain message.
func Info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}

// JSON prints v as indented JSON.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// FormatSeverity renders a severity as a colored, fixed-width label.
func FormatSeverity(s sync.Severity) string {
	label := fmt.Sprintf("%-7s", strings.ToUpper(string(s)))
	if style, ok := severityStyles[s]; ok {
		return style.Render(label)
	}
	return label
}

// FormatTime renders an optional timestamp in local time, or "never".
func FormatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// RunResult prints the outcome of a sync or retry request.
func RunResult(w io.Writer, result *sync.RunResult) {
	switch result.Outcome {
	case sync.OutcomeCompleted, sync.OutcomeNothingToSync:
		Success(w, "%s", result.Message)
	case sync.OutcomePartial:
		Warning(w, "%s", result.Message)
	case sync.OutcomeNothingToRetry:
		Info(w, "%s", result.Message)
	default:
		Error(w, "%s", result.Message)
	}

	if result.RunID != "" {
		Info(w, "%s", subtleStyle.Render("run "+result.RunID))
	}
	for _, err := range result.Errors {
		Info(w, "  - %v", err)
	}
}

// Status prints the tracker state and the most recent log lines.
func Status(w io.Writer, status sync.Status) {
	fmt.Fprintln(w, titleStyle.Render("Sync status"))

	state := "idle"
	if status.InProgress {
		state = warningStyle.Render("running")
	}

	lastRun := "none"
	if status.Success != nil {
		if *status.Success {
			lastRun = successStyle.Render("succeeded")
		} else {
			lastRun = errorStyle.Render("had failures")
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  State:\t%s\n", state)
	fmt.Fprintf(tw, "  Last sync:\t%s\n", FormatTime(status.LastSync))
	fmt.Fprintf(tw, "  Last run:\t%s\n", lastRun)
	fmt.Fprintf(tw, "  Processed:\t%d (%d succeeded, %d failed)\n", status.TotalProcessed, status.TotalSuccess, status.TotalFailed)
	fmt.Fprintf(tw, "  Pending:\t%d\n", len(status.PendingSync))
	fmt.Fprintf(tw, "  Failed:\t%s\n", joinOrNone(status.FailedSync))
	_ = tw.Flush()

	if len(status.Logs) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Recent activity"))
	for i, entry := range status.Logs {
		if i == statusLogLines {
			break
		}
		fmt.Fprintf(w, "  %s %s %s\n",
			subtleStyle.Render(entry.Timestamp.Local().Format("15:04:05")),
			FormatSeverity(entry.Severity),
			entry.Message,
		)
	}
}

// Records prints establishment records as a table.
func Records(w io.Writer, records []establishment.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No establishments."))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCITY\tLAT,LON\tMAP ID\tUPDATE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s,%s\t%s\t%s\n",
			r.ID,
			r.Name,
			dashIfEmpty(r.Municipality),
			strconv.FormatFloat(r.Lat, 'f', -1, 64),
			strconv.FormatFloat(r.Lon, 'f', -1, 64),
			dashIfEmpty(r.MapID),
			yesNo(r.NeedsUpdate),
		)
	}
	_ = tw.Flush()
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
