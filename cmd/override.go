package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/ambi/internal/catalog"
	"github.com/desertthunder/ambi/internal/models"
	"github.com/desertthunder/ambi/internal/repositories"
	"github.com/desertthunder/ambi/internal/shared"
	"github.com/urfave/cli/v3"
)

var audioExts = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".flac": true}

// OverrideSet stores a local file to play instead of a catalog sound.
func (r *Runner) OverrideSet(ctx context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.StringArg("name"))
	path := cmd.StringArg("path")
	if name == "" || path == "" {
		return fmt.Errorf("%w: override set <name> <path>", shared.ErrMissingArgument)
	}

	if err := r.checkSoundName(name); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", shared.ErrInvalidArgument, abs)
	}
	if !audioExts[strings.ToLower(filepath.Ext(abs))] {
		return fmt.Errorf("%w: unsupported audio file %s (want mp3, wav, ogg or flac)", shared.ErrInvalidArgument, abs)
	}

	return r.withOverrides(func(repo *repositories.OverrideRepository) error {
		if err := repo.Set(models.NewOverride(name, abs)); err != nil {
			return fmt.Errorf("failed to save override: %w", err)
		}
		r.logger.Info("override saved", "name", name, "path", abs)
		return r.writePlain("✓ %s → %s\n", name, abs)
	})
}

// OverrideList prints stored overrides.
func (r *Runner) OverrideList(ctx context.Context, cmd *cli.Command) error {
	return r.withOverrides(func(repo *repositories.OverrideRepository) error {
		list, err := repo.List()
		if err != nil {
			return fmt.Errorf("failed to list overrides: %w", err)
		}

		if cmd.Bool("json") {
			out := make([]map[string]string, 0, len(list))
			for _, o := range list {
				out = append(out, map[string]string{"name": o.Name(), "path": o.LocalPath()})
			}
			return r.writeJSON(out, true)
		}

		if len(list) == 0 {
			return r.writePlain("No overrides\n")
		}
		for _, o := range list {
			missing := ""
			if _, err := os.Stat(o.LocalPath()); err != nil {
				missing = " (missing)"
			}
			if err := r.writePlain("%-12s %s%s\n", o.Name(), o.LocalPath(), missing); err != nil {
				return err
			}
		}
		return nil
	})
}

// OverrideRemove deletes an override so the catalog sound plays again.
func (r *Runner) OverrideRemove(ctx context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(cmd.StringArg("name"))
	if name == "" {
		return fmt.Errorf("%w: override remove <name>", shared.ErrMissingArgument)
	}

	return r.withOverrides(func(repo *repositories.OverrideRepository) error {
		if err := repo.Delete(name); err != nil {
			return fmt.Errorf("failed to remove override: %w", err)
		}
		return r.writePlain("✓ %s restored to catalog sound\n", name)
	})
}

func (r *Runner) withOverrides(fn func(*repositories.OverrideRepository) error) error {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			r.logger.Warn("failed to close database", "error", err)
		}
	}(db)

	return fn(repositories.NewOverrideRepository(db))
}

// checkSoundName rejects names that no catalog mode knows.
func (r *Runner) checkSoundName(name string) error {
	cat, err := catalog.Load(r.config.Catalog.Path, r.config.Catalog.BaseURL)
	if err != nil {
		return err
	}
	for _, mode := range cat.Modes() {
		if _, ok := cat.Sound(mode, name); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", shared.ErrUnknownSound, name)
}
