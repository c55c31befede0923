package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/playsync/internal/formatter"
	"github.com/desertthunder/playsync/internal/models"
	"github.com/desertthunder/playsync/internal/oauth"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/desertthunder/playsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// renderProgress prints updates until progress is closed, then closes done.
func (r *Runner) renderProgress(progress <-chan tasks.ProgressUpdate, done chan<- struct{}) {
	defer close(done)
	for update := range progress {
		r.logger.Debug("progress", "phase", update.Phase, "step", update.Step, "total", update.Total)
		r.writePlain("  %s\n", update.Message)
	}
}

// Sync imports recent plays for one user, or for every connected user with --all.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	userID, all := cmd.String("user"), cmd.Bool("all")
	switch {
	case userID == "" && !all:
		return fmt.Errorf("%w: --user or --all is required", shared.ErrMissingArgument)
	case userID != "" && all:
		return fmt.Errorf("%w: --user and --all are mutually exclusive", shared.ErrInvalidArgument)
	}

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	if !cmd.Bool("json") {
		go r.renderProgress(progress, done)
	} else {
		close(done)
	}

	if all {
		res, err := app.Engine.SyncAll(ctx, progress, nil, tasks.BulkSyncOpts{NumWorkers: cmd.Int("workers")})
		close(progress)
		<-done
		if err != nil {
			return err
		}
		return r.printBulkSync(res, cmd.Bool("json"))
	}

	res, err := app.Engine.Sync(ctx, userID, progress)
	close(progress)
	<-done

	if cmd.Bool("json") {
		if werr := r.writeJSON(res, true); werr != nil {
			return werr
		}
		return err
	}

	if err != nil {
		r.writePlain("%s\n", formatter.Styles.Err("✗ "+res.Message))
		return err
	}
	r.writePlain("%s\n", formatter.Styles.OK(fmt.Sprintf("✓ %s (%d fetched)", res.Message, res.Fetched)))
	return nil
}

func (r *Runner) printBulkSync(res *tasks.BulkSyncResult, asJSON bool) error {
	if asJSON {
		type userResult struct {
			UserID      string `json:"userId"`
			TracksAdded int    `json:"tracksAdded"`
			Error       string `json:"error,omitempty"`
		}
		users := make([]userResult, 0, len(res.Results))
		for _, u := range res.Results {
			out := userResult{UserID: u.UserID, TracksAdded: u.TracksAdded}
			if u.Error != nil {
				out.Error = u.Error.Error()
			}
			users = append(users, out)
		}
		return r.writeJSON(map[string]any{
			"totalUsers":  res.TotalUsers,
			"succeeded":   res.Succeeded,
			"failed":      res.Failed,
			"tracksAdded": res.TracksAdded,
			"results":     users,
		}, true)
	}

	r.writePlainHeader("Bulk sync")
	r.writePlain("Users:        %d\n", res.TotalUsers)
	r.writePlain("Succeeded:    %s\n", formatter.Styles.OK(fmt.Sprint(res.Succeeded)))
	if res.Failed > 0 {
		r.writePlain("Failed:       %s\n", formatter.Styles.Err(fmt.Sprint(res.Failed)))
	} else {
		r.writePlain("Failed:       0\n")
	}
	r.writePlain("Tracks added: %d\n", res.TracksAdded)
	return nil
}

// Status prints a user's connection state.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Coordinator.Status(ctx, userID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"connected":    st.Connected,
			"state":        st.State,
			"lastSyncedAt": st.LastSyncedAt,
			"scopes":       st.ScopeList(),
		}, true)
	}

	state := formatter.Styles.Warn(string(st.State))
	if st.State == oauth.StateConnected {
		state = formatter.Styles.OK(string(st.State))
	}
	lastSynced := "never"
	if st.LastSyncedAt != nil {
		lastSynced = st.LastSyncedAt.Local().Format(time.DateTime)
	}
	scopes := strings.Join(st.ScopeList(), ", ")
	if scopes == "" {
		scopes = "-"
	}

	r.writePlainHeader(formatter.Styles.Title(fmt.Sprintf("%s integration for %s", app.Coordinator.Provider(), userID)))
	r.writePlain("State:       %s\n", state)
	r.writePlain("Last synced: %s\n", lastSynced)
	r.writePlain("Scopes:      %s\n", scopes)
	return nil
}

// TopTracks prints or exports the most recently played stored tracks.
func (r *Runner) TopTracks(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		format = formatter.FormatJSON
	}

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	var plays []*models.PlayRecord
	title := fmt.Sprintf("Recently played by %s", userID)
	switch source := cmd.String("source"); source {
	case "history":
		if plays, err = app.Engine.GetUserTopTracks(ctx, userID, cmd.Int("limit")); err != nil {
			return err
		}
	case "provider":
		items, err := app.Engine.ProviderTopTracks(ctx, userID, cmd.String("time-range"), cmd.Int("limit"))
		if err != nil {
			return err
		}
		for _, it := range items {
			plays = append(plays, models.NewPlayRecord(userID, app.Engine.Provider(), it))
		}
		title = fmt.Sprintf("Top tracks for %s (%s)", userID, cmd.String("time-range"))
	default:
		return fmt.Errorf("%w: --source must be history or provider, got %q", shared.ErrInvalidArgument, source)
	}

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteExport(path, format, title, plays)
		if err != nil {
			return err
		}
		r.logger.Info("export written", "path", written, "plays", len(plays))
		r.writePlain("Exported %d plays to %s\n", len(plays), written)
		return nil
	}

	data, err := formatter.Render(format, title, plays)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// NowPlaying prints the user's current playback.
func (r *Runner) NowPlaying(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	np, err := app.Engine.NowPlaying(ctx, userID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := map[string]any{"isPlaying": false, "track": nil}
		if np != nil {
			out["isPlaying"] = np.IsPlaying
			out["progressMs"] = np.Progress
			out["track"] = formatter.ToPlayJSON([]*models.PlayRecord{models.NewPlayRecord(userID, app.Engine.Provider(), np.Item)})[0]
		}
		return r.writeJSON(out, true)
	}

	if np == nil {
		r.writePlain("Nothing playing for %s\n", userID)
		return nil
	}
	state := formatter.Styles.OK("▶ playing")
	if !np.IsPlaying {
		state = formatter.Styles.Warn("❚❚ paused")
	}
	elapsed := time.Duration(np.Progress) * time.Millisecond
	r.writePlain("%s  %s - %s (%s)\n", state, np.Item.ArtistName, np.Item.TrackName, elapsed.Truncate(time.Second))
	return nil
}

// Summary prints the current month's listening summary.
func (r *Runner) Summary(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if format == formatter.FormatCSV {
		return fmt.Errorf("%w: summaries support txt, markdown and json", shared.ErrInvalidArgument)
	}

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	sum, err := app.Engine.Summary(ctx, userID, time.Now())
	if err != nil {
		return err
	}

	switch format {
	case formatter.FormatJSON:
		return r.writeJSON(sum, true)
	case formatter.FormatMarkdown:
		_, err = r.output.Write(formatter.SummaryToMarkdown(sum))
	default:
		_, err = r.output.Write(formatter.SummaryToText(sum))
	}
	return err
}

// Disconnect deactivates the user's integration. Disconnecting twice succeeds.
func (r *Runner) Disconnect(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Coordinator.Disconnect(ctx, userID); err != nil {
		return err
	}
	r.writePlain("%s\n", formatter.Styles.OK(fmt.Sprintf("✓ %s disconnected for %s", app.Coordinator.Provider(), userID)))
	return nil
}
