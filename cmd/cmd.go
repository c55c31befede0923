// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/desertthunder/playsync/internal/services"
	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User id the integration belongs to",
		Required: true,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example configuration file",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
		},
	}
}

// serveCommand runs the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the OAuth and integrations HTTP API",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Serve,
	}
}

// connectCommand runs the authorization handshake from a terminal.
func connectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect a user's streaming account through the browser",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the provider callback",
				Value: 2 * time.Minute,
			},
		},
		Action: r.Connect,
	}
}

// syncCommand imports recently played tracks.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Import recently played tracks",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User id to sync",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sync every connected user",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent syncs when using --all",
				Value: 4,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Sync,
	}
}

// statusCommand shows the connection state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show a user's connection status",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

// topTracksCommand lists the most recent stored plays, or the provider's own
// ranking with --source provider.
func topTracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "top-tracks",
		Aliases: []string{"recent"},
		Usage:   "List a user's most recently played stored tracks",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of tracks (1-50)",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Where to read tracks from: history or provider",
				Value: "history",
			},
			&cli.StringFlag{
				Name:  "time-range",
				Usage: "Provider ranking window: short_term, medium_term or long_term",
				Value: services.MediumTerm,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: txt, csv, markdown, json",
				Value:   "txt",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the export to a file instead of stdout",
			},
		},
		Action: r.TopTracks,
	}
}

// summaryCommand reports the current month's listening.
func summaryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Summarize this month's listening",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: txt, markdown, json",
				Value:   "txt",
			},
		},
		Action: r.Summary,
	}
}

// nowPlayingCommand shows the user's current playback.
func nowPlayingCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "now-playing",
		Usage: "Show what a user is playing right now",
		Flags: []cli.Flag{
			configFlag(),
			userFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.NowPlaying,
	}
}

// disconnectCommand deactivates an integration.
func disconnectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Disconnect a user's streaming account",
		Flags:  []cli.Flag{configFlag(), userFlag()},
		Action: r.Disconnect,
	}
}
