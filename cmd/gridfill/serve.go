package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/gridfill/internal/browser"
	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/control"
	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/notify"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr    string
		record  string
		connect string
	)

	cmd := &cobra.Command{
		Use:   "serve <url>",
		Short: "Open a page and drive sessions through the HTTP control API",
		Long: `serve keeps a page open and exposes the control API:

  POST /start      {"hint": {...}, "mode": "auto"|"single"}
  POST /stop
  POST /configure  {"targetLabel": "Math", "actionDelayMs": 150, ...}
  POST /key        {"key": "Escape"}
  GET  /status
  GET  /events     websocket feed of notices (?all=1 includes progress)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Control.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			bctx, release := browserContext(cmd.Context())
			defer release()

			sess, err := a.openBrowser(bctx, ctx, args[0], connect)
			if err != nil {
				return err
			}
			defer sess.Close()

			hub := control.NewHub(a.logger)
			var observers []controller.Observer
			if rec := a.newRecorder(sess, record); rec != nil {
				observers = append(observers, rec)
			}
			ctrl := controller.New(browser.NewAccessor(sess.Page(), a.cfg.Grid, a.logger), clock.Real{}, controller.Options{
				Column:     a.cfg.Grid.SubjectColumn,
				Automation: a.cfg.Automation,
				Notifier:   notify.Multi{notify.NewLogger(a.logger), hub},
				Observers:  observers,
			}, a.logger)

			srv := &http.Server{
				Addr:              addr,
				Handler:           control.NewServer(ctrl, hub, a.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("control API listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("control API: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				unwatch := a.watchKeys(sess, ctrl)
				<-gctx.Done()
				unwatch()
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("shutting down")
				ctrl.Stop()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Control.ShutdownTimeout)
				defer cancel()
				err := srv.Shutdown(shutdownCtx)
				hub.Close()
				return err
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address of the control API (default control.addr)")
	cmd.Flags().StringVar(&record, "record", "", "write a GIF of every session; {session} is replaced by the session id")
	cmd.Flags().StringVar(&connect, "connect", "", "DevTools websocket URL of a running browser to attach to")
	return cmd
}
