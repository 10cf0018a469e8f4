package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ambi/internal/session"
	"github.com/desertthunder/ambi/internal/shared"
	"github.com/desertthunder/ambi/internal/startup"
	"github.com/desertthunder/ambi/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive mixer.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Log.File)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	s, closeFn, err := r.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer closeFn()

	stopServer, err := r.serve(s, cmd.String("metrics-addr"))
	if err != nil {
		return err
	}
	defer stopServer()

	sub := s.Events(128)
	defer sub.Cancel()

	start := func(ctx context.Context) (startup.Summary, error) {
		return s.Start(ctx, session.StartOptions{})
	}
	return ui.Run(ctx, ui.NewModel(ctx, s, sub.C, start))
}
