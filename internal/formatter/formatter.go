// package formatter renders sound listings and startup reports as CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/ambi/internal/recovery"
	"github.com/desertthunder/ambi/internal/session"
	"github.com/desertthunder/ambi/internal/startup"
)

// Format names an output format accepted by the CLI.
type Format string

const (
	Text     Format = "text"
	CSV      Format = "csv"
	Markdown Format = "markdown"
)

// ParseFormat maps a flag value to a [Format].
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Text, CSV, Markdown:
		return Format(s), nil
	case "md":
		return Markdown, nil
	case "":
		return Text, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, csv or markdown)", s)
	}
}

// SoundsToCSV writes one row per sound with columns: Name, Display, Backend, Load, Play, Volume, Local, Disabled
func SoundsToCSV(sounds []session.SoundView) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Name", "Display", "Backend", "Load", "Play", "Volume", "Local", "Disabled"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, s := range sounds {
		record := []string{
			s.Name,
			s.Display,
			s.Backend,
			s.Load,
			s.Play,
			strconv.FormatFloat(s.Volume, 'f', 2, 64),
			strconv.FormatBool(s.Local),
			strconv.FormatBool(s.Disabled),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// SoundsToText lists the sounds of one mode, one per line.
func SoundsToText(mode string, sounds []session.SoundView) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Mode: %s\n", mode)
	fmt.Fprintf(&buf, "Sounds: %d\n\n", len(sounds))

	for i, s := range sounds {
		var flags string
		if s.Local {
			flags += " [local]"
		}
		if s.Disabled {
			flags += " [unavailable]"
		}
		icon := s.Icon
		if icon == "" {
			icon = "-"
		}
		fmt.Fprintf(&buf, "%d. %s %s (%s)%s\n", i+1, icon, s.Display, s.Name, flags)
	}

	return buf.Bytes()
}

// SummaryToText renders a startup run as an aligned phase table followed by recorded errors.
func SummaryToText(s startup.Summary) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Startup: %s", round(s.Duration))
	if !s.Final {
		buf.WriteString(" (background still running)")
	}
	buf.WriteString("\n\n")

	for _, r := range s.Phases {
		status := r.Status.String()
		if r.Recovered {
			status += " (recovered)"
		}
		fmt.Fprintf(&buf, "  %-12s %-22s %s\n", r.Phase, status, round(r.Duration))
		if r.Err != nil && r.Status == startup.Failed {
			fmt.Fprintf(&buf, "  %-12s %v\n", "", r.Err)
		}
	}

	if len(s.Unavailable) > 0 {
		fmt.Fprintf(&buf, "\nUnavailable: %v\n", s.Unavailable)
	}
	if len(s.Errors) > 0 {
		buf.WriteString("\n")
		buf.Write(ErrorsToText(s.Errors))
	}

	return buf.Bytes()
}

// SummaryToMarkdown renders a startup run as a Markdown report.
func SummaryToMarkdown(s startup.Summary) []byte {
	var buf bytes.Buffer

	buf.WriteString("# Startup report\n\n")
	fmt.Fprintf(&buf, "**Duration**: %s\n", round(s.Duration))
	fmt.Fprintf(&buf, "**Final**: %t\n\n", s.Final)

	buf.WriteString("## Phases\n\n")
	buf.WriteString("| Phase | Status | Recovered | Duration |\n")
	buf.WriteString("|---|---|---|---|\n")
	for _, r := range s.Phases {
		fmt.Fprintf(&buf, "| %s | %s | %t | %s |\n", r.Phase, r.Status, r.Recovered, round(r.Duration))
	}

	if len(s.Unavailable) > 0 {
		buf.WriteString("\n## Unavailable sounds\n\n")
		for _, name := range s.Unavailable {
			fmt.Fprintf(&buf, "- %s\n", name)
		}
	}

	if len(s.Errors) > 0 {
		buf.WriteString("\n## Errors\n\n")
		for _, rec := range s.Errors {
			fmt.Fprintf(&buf, "- `%s` **%s** %s: %v\n", rec.Time.Format(time.TimeOnly), rec.Category, rec.Origin, rec.Err)
		}
	}

	return buf.Bytes()
}

// ErrorsToText lists error records oldest first.
func ErrorsToText(records []recovery.ErrorRecord) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Errors: %d\n", len(records))
	for _, rec := range records {
		network := "online"
		if !rec.Online {
			network = "offline"
		}
		fmt.Fprintf(&buf, "  %s %-8s %-12s %s: %v\n", rec.Time.Format(time.TimeOnly), rec.Category, rec.Origin, network, rec.Err)
	}

	return buf.Bytes()
}

// Summary renders s in the given format.
func Summary(s startup.Summary, f Format) ([]byte, error) {
	switch f {
	case Markdown:
		return SummaryToMarkdown(s), nil
	case Text:
		return SummaryToText(s), nil
	default:
		return nil, fmt.Errorf("format %q is not supported for startup reports", f)
	}
}

// Sounds renders a sound listing in the given format.
func Sounds(mode string, sounds []session.SoundView, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return SoundsToCSV(sounds)
	case Text:
		return SoundsToText(mode, sounds), nil
	default:
		return nil, fmt.Errorf("format %q is not supported for sound listings", f)
	}
}

// WriteReport writes data to path, creating parent directories.
func WriteReport(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
