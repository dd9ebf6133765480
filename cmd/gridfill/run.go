package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/browser"
	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/notify"
	"github.com/v0xg/gridfill/internal/recorder"
)

func (a *app) runCmd() *cobra.Command {
	var (
		hf      hintFlags
		record  string
		connect string
	)

	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Open a page and run one session against its grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint, err := hf.hint(cmd, a.cfg.Grid.SubjectColumn)
			if err != nil {
				return err
			}
			mode, err := controller.ParseMode(hf.mode)
			if err != nil {
				return err
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

			var observers []controller.Observer
			rec := a.newRecorder(sess, record)
			if rec != nil {
				observers = append(observers, rec)
			}

			ctrl := controller.New(browser.NewAccessor(sess.Page(), a.cfg.Grid, a.logger), clock.Real{}, controller.Options{
				Column:     a.cfg.Grid.SubjectColumn,
				Automation: a.cfg.Automation,
				Notifier:   notify.NewLogger(a.logger),
				Observers:  observers,
			}, a.logger)

			unwatch := a.watchKeys(sess, ctrl)
			defer unwatch()

			id := ctrl.Start(ctx, hint, mode)
			a.logger.Info("session started", zap.String("session", id), zap.String("target", a.cfg.Automation.TargetLabel))
			go func() {
				select {
				case <-ctx.Done():
					ctrl.Stop()
				case <-ctrl.Done():
				}
			}()

			res := ctrl.Wait()
			printResult(cmd.OutOrStdout(), res)
			if rec != nil {
				if r := rec.Last(); r != nil && r.Err == nil && r.Frames > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved recording to %s (%.1f MB)\n", r.Path, float64(r.Size)/(1024*1024))
				}
			}
			if res.Reason == controller.Fatal {
				return fmt.Errorf("session %s failed: %w", res.SessionID, res.Err)
			}
			return nil
		},
	}

	hf.bind(cmd)
	cmd.Flags().StringVar(&record, "record", "", "write a GIF of the session to this file (default recorder.output)")
	cmd.Flags().StringVar(&connect, "connect", "", "DevTools websocket URL of a running browser to attach to")
	return cmd
}

// browserContext returns the context the browser is bound to. It carries parent's values
// but not its cancellation, so on an interrupt the session is stopped while the page is
// still reachable. release closes it once the session is over.
func browserContext(parent context.Context) (ctx context.Context, release context.CancelFunc) {
	return context.WithCancel(context.WithoutCancel(parent))
}

// openBrowser binds the browser to bctx and waits for the grid under ctx.
func (a *app) openBrowser(bctx, ctx context.Context, url, connect string) (*browser.Session, error) {
	cfg := a.cfg.Browser
	if connect != "" {
		cfg.ControlURL = connect
	}
	sess, err := browser.Open(bctx, url, cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if err := sess.WaitForGrid(ctx, a.cfg.Grid, cfg.GridTimeout); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (a *app) newRecorder(sess *browser.Session, output string) *recorder.Recorder {
	if output == "" {
		output = a.cfg.Recorder.Output
	}
	if output == "" {
		return nil
	}
	return recorder.New(sess, recorder.Options{
		Output:     output,
		FrameDelay: a.cfg.Recorder.FrameDelay,
		MaxWidth:   a.cfg.Recorder.MaxWidth,
	}, a.logger)
}

// watchKeys forwards key presses on the page to the controller so the stop key works.
func (a *app) watchKeys(sess *browser.Session, ctrl *controller.Controller) func() {
	unwatch, err := sess.WatchKeys(func(key string) { ctrl.HandleKey(key) })
	if err != nil {
		a.logger.Warn("stop key is not available on the page", zap.Error(err))
		return func() {}
	}
	return func() {
		if err := unwatch(); err != nil {
			a.logger.Debug("removing key binding", zap.Error(err))
		}
	}
}

func printResult(w io.Writer, res controller.Result) {
	mark := "✓"
	if res.Reason != controller.Completed {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s: %d rows set in %d cycles (%s)\n", mark, res.Reason, res.Actions, res.Cycles, res.Duration.Round(time.Millisecond))
	if res.Err != nil {
		fmt.Fprintf(w, "  %v\n", res.Err)
	}
}
