package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/playsync/internal/formatter"
	"github.com/desertthunder/playsync/internal/oauth"
	"github.com/desertthunder/playsync/internal/server"
	"github.com/desertthunder/playsync/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	api, err := app.API(nil, r.logger)
	if err != nil {
		return err
	}

	srv := server.New(app.Config.Server, api)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.serve(ctx, srv, ln)
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func (r *Runner) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		r.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// callbackNotifier reports callback outcomes for one user to the waiting
// connect command.
type callbackNotifier struct {
	server.Connector
	userID  string
	results chan *oauth.CallbackResult
}

func (n *callbackNotifier) Callback(ctx context.Context, p oauth.CallbackParams) (*oauth.CallbackResult, error) {
	res, err := n.Connector.Callback(ctx, p)
	if err == nil && res.UserID == n.userID {
		select {
		case n.results <- res:
		default:
		}
	}
	return res, err
}

// Connect serves the callback route, opens the consent page in a browser and
// waits for the provider to redirect back.
func (r *Runner) Connect(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	timeout := cmd.Duration("timeout")

	app, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	notifier := &callbackNotifier{
		Connector: app.Coordinator,
		userID:    userID,
		results:   make(chan *oauth.CallbackResult, 1),
	}
	api, err := app.API(notifier, r.logger)
	if err != nil {
		return err
	}

	srv := server.New(app.Config.Server, api)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}

	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	errc := make(chan error, 1)
	go func() { errc <- r.serve(serveCtx, srv, ln) }()

	authURL, err := app.Coordinator.Connect(ctx, userID, "")
	if err != nil {
		stopServing()
		<-errc
		return err
	}

	r.writePlain("Opening browser for authorization...\n")
	r.writePlain("If it does not open, visit:\n%s\n", authURL)
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser", "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *oauth.CallbackResult
	select {
	case result = <-notifier.results:
	case err := <-errc:
		return err
	case <-waitCtx.Done():
	}

	stopServing()
	if err := <-errc; err != nil {
		r.logger.Warn("server shutdown failed", "error", err)
	}

	switch {
	case result == nil:
		return fmt.Errorf("%w: no authorization callback within %s", shared.ErrAuthFailed, timeout)
	case !result.Connected:
		r.writePlain("%s\n", formatter.Styles.Err("✗ Authorization failed: "+result.Reason))
		return fmt.Errorf("%w: %s", shared.ErrAuthFailed, result.Reason)
	}

	r.writePlain("%s\n", formatter.Styles.OK(fmt.Sprintf("✓ Connected %s for %s", app.Coordinator.Provider(), userID)))
	return nil
}
