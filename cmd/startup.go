package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/formatter"
	"github.com/desertthunder/ambi/internal/session"
	"github.com/desertthunder/ambi/internal/startup"
	"github.com/urfave/cli/v3"
)

// Startup runs every phase against an in-memory mixer and prints a report of the final summary.
func (r *Runner) Startup(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	s, closeFn, err := r.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer closeFn()

	quiet := cmd.Bool("quiet") || cmd.Bool("json")
	opts := session.StartOptions{Progress: func(p events.Progress) {
		if !quiet {
			r.writePlain("[%-11s] %5.1f%% %s\n", p.Phase, p.Percent, p.Message)
		}
	}}
	if cmd.Bool("no-restore") {
		restore := false
		opts.Restore = &restore
	}

	var summary startup.Summary
	if _, err = s.Start(ctx, opts); err == nil {
		summary, err = s.Wait(ctx)
	}
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	return r.report(summary, format, cmd.String("output"), cmd.Bool("json"))
}

type summaryJSON struct {
	events.StartupComplete
	Unavailable []string `json:"Unavailable,omitempty"`
	Errors      []string `json:"Errors,omitempty"`
}

func (r *Runner) report(summary startup.Summary, format formatter.Format, output string, asJSON bool) error {
	if asJSON {
		out := summaryJSON{StartupComplete: summary.Event(), Unavailable: summary.Unavailable}
		for _, rec := range summary.Errors {
			out.Errors = append(out.Errors, fmt.Sprintf("%s %s: %v", rec.Category, rec.Origin, rec.Err))
		}
		return r.writeJSON(out, true)
	}

	data, err := formatter.Summary(summary, format)
	if err != nil {
		return err
	}
	if output != "" {
		if err := formatter.WriteReport(output, data); err != nil {
			return err
		}
		r.logger.Info("report written", "path", output)
	}
	return r.writeBytes(data)
}
