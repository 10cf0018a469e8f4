package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ambi/internal/events"
	"github.com/desertthunder/ambi/internal/server"
	"github.com/desertthunder/ambi/internal/session"
	"github.com/desertthunder/ambi/internal/shared"
	"github.com/urfave/cli/v3"
)

// Play starts the named sounds and blocks until interrupted or the sleep timer fires.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	names := cmd.Args().Slice()
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one sound name", shared.ErrMissingArgument)
	}
	volume := cmd.Float("volume")
	if volume < 0 || volume > 1 {
		return fmt.Errorf("%w: --volume must be within [0,1]", shared.ErrInvalidArgument)
	}
	master := cmd.Float("master")
	if master > 1 {
		return fmt.Errorf("%w: --master must be within [0,1]", shared.ErrInvalidArgument)
	}

	s, closeFn, err := r.openSession(ctx, false)
	if err != nil {
		return err
	}
	defer closeFn()

	sub := s.Events(32)
	defer sub.Cancel()

	stopServer, err := r.serve(s, cmd.String("metrics-addr"))
	if err != nil {
		return err
	}
	defer stopServer()

	// the saved mix is not replayed when sounds are named explicitly
	restore := false
	if _, err := s.Start(ctx, session.StartOptions{Restore: &restore}); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	if mode := cmd.String("mode"); mode != "" {
		if err := s.SetMode(mode); err != nil {
			return fmt.Errorf("failed to select mode: %w", err)
		}
	}
	if master >= 0 {
		s.SetMasterVolume(master)
	}

	played := 0
	for _, name := range names {
		if s.Play(ctx, name, volume) {
			played++
			r.writePlain("▶ %s\n", name)
		} else {
			r.writePlain("✗ %s could not start\n", name)
		}
	}
	if played == 0 {
		return fmt.Errorf("%w: none of the requested sounds could start", shared.ErrServiceUnavailable)
	}

	if d := cmd.Duration("timer"); d > 0 {
		s.StartTimer(d)
		r.writePlain("sleep timer: %s\n", d)
	}

	r.writePlain("playing; press Ctrl+C to stop\n")
	for {
		select {
		case <-ctx.Done():
			r.writePlain("\nstopping\n")
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			switch e := e.(type) {
			case events.TimerFired:
				r.writePlain("sleep timer fired after %s\n", e.After)
				return nil
			case events.Notification:
				r.logger.Info("recovery", "category", e.Category, "kind", e.Kind, "resource", e.Resource, "message", e.Message)
			case events.ControlDisabled:
				r.writePlain("✗ %s disabled: %s\n", e.Name, e.Reason)
			case events.Connectivity:
				r.logger.Info("connectivity changed", "online", e.Online)
			}
		}
	}
}

// serve starts the metrics/status server when addr is set. The returned func stops it.
func (r *Runner) serve(reporter server.Reporter, addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}

	srv := server.New(reporter, r.logger)
	if err := srv.Start(addr); err != nil {
		return nil, err
	}
	r.logger.Info("metrics and status available", "url", "http://"+srv.Addr()+"/status")

	return func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}, nil
}
