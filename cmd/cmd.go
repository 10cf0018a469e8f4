// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles first-run setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, then initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// soundsCommand lists the catalog.
func soundsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sounds",
		Usage: "List the sounds of a mode with their availability",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Catalog mode (defaults to [playback] default_mode)",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text or csv",
				Value:   "text",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "modes",
				Usage: "List mode names only",
			},
		},
		Action: r.Sounds,
	}
}

// playCommand plays a mix until interrupted or the sleep timer fires.
func playCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "play",
		Usage:     "Play one or more sounds until interrupted",
		ArgsUsage: "<sound> [sound...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Catalog mode to play from",
			},
			&cli.FloatFlag{
				Name:  "volume",
				Usage: "Per-sound volume in [0,1]",
				Value: 1,
			},
			&cli.FloatFlag{
				Name:  "master",
				Usage: "Master volume in [0,1] (defaults to [playback] master_volume)",
				Value: -1,
			},
			&cli.DurationFlag{
				Name:    "timer",
				Aliases: []string{"t"},
				Usage:   "Stop everything after this long (e.g. 30m)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics and /status on this address (e.g. 127.0.0.1:9090)",
			},
		},
		Action: r.Play,
	}
}

// startupCommand runs the phase sequence headless and reports on it.
func startupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "startup",
		Usage: "Run the startup phases without audio output and print a report",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the final summary as JSON",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Report format: text or markdown",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Also write the report to this file",
			},
			&cli.BoolFlag{
				Name:  "no-restore",
				Usage: "Skip replaying the saved mix",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not print progress lines",
			},
		},
		Action: r.Startup,
	}
}

// overrideCommand manages user-supplied local files.
func overrideCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "override",
		Usage: "Replace catalog sounds with local files",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Use a local audio file for a sound",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
					&cli.StringArg{Name: "path"},
				},
				Action: r.OverrideSet,
			},
			{
				Name:  "list",
				Usage: "List stored overrides",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.OverrideList,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm"},
				Usage:   "Restore the catalog sound",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.OverrideRemove,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "ui",
		Aliases: []string{"tui", "interactive"},
		Usage:   "Launch the interactive mixer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve /metrics and /status on this address while the UI runs",
			},
		},
		Action: r.TUI,
	}
}
