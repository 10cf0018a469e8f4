package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ambi/internal/formatter"
	"github.com/urfave/cli/v3"
)

// Sounds lists the sounds of one mode, with overrides applied.
func (r *Runner) Sounds(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	s, closeFn, err := r.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer closeFn()

	if cmd.Bool("modes") {
		if cmd.Bool("json") {
			return r.writeJSON(s.Modes(), true)
		}
		for _, m := range s.Modes() {
			marker := " "
			if m == s.Mode() {
				marker = "*"
			}
			if err := r.writePlain("%s %s\n", marker, m); err != nil {
				return err
			}
		}
		return nil
	}

	if mode := cmd.String("mode"); mode != "" {
		if err := s.SetMode(mode); err != nil {
			return fmt.Errorf("failed to select mode: %w", err)
		}
	}
	if err := s.ApplyOverrides(); err != nil {
		r.logger.Warn("failed to load overrides", "error", err)
	}

	sounds := s.Sounds()
	if cmd.Bool("json") {
		return r.writeJSON(sounds, true)
	}

	data, err := formatter.Sounds(s.Mode(), sounds, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}
