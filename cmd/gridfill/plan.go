package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/executor"
	"github.com/v0xg/gridfill/internal/notify"
	"github.com/v0xg/gridfill/internal/snapshot"
)

// outcomes remembers how each row was changed.
type outcomes struct {
	mu   sync.Mutex
	rows map[int]executor.Outcome
}

func (o *outcomes) ActionApplied(_ context.Context, ev controller.ActionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rows[ev.Row] = ev.Outcome
}

func (o *outcomes) SessionEnded(controller.Result) {}

func (a *app) planCmd() *cobra.Command {
	var (
		hf  hintFlags
		out string
	)

	cmd := &cobra.Command{
		Use:   "plan <file.html>",
		Short: "Dry-run a session against a saved page and show what would change",
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

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			page, err := snapshot.Load(f, a.cfg.Grid, a.logger)
			f.Close()
			if err != nil {
				return err
			}

			auto := a.cfg.Automation
			auto.ActionDelay, auto.CycleDelay, auto.ScrollSettleDelay = 0, 0, 0
			seen := &outcomes{rows: map[int]executor.Outcome{}}
			ctrl := controller.New(page, clock.Real{}, controller.Options{
				Column:     a.cfg.Grid.SubjectColumn,
				Automation: auto,
				Notifier:   notify.NewLogger(a.logger),
				Observers:  []controller.Observer{seen},
			}, a.logger)
			ctrl.Start(cmd.Context(), hint, mode)
			res := ctrl.Wait()

			changes := page.Changes()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Row", "Column", "From", "To", "Via"})
			for _, c := range changes {
				table.Append([]string{strconv.Itoa(c.Row), c.Column, c.From, c.To, seen.rows[c.Row].String()})
			}
			table.SetFooter([]string{"", "", "", strconv.Itoa(len(changes)) + " rows", res.Reason.String()})
			table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
			table.SetBorder(false)
			table.Render()

			if out != "" {
				if err := writeSnapshot(page, out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", out)
			}
			if res.Reason == controller.Fatal {
				return fmt.Errorf("plan failed: %w", res.Err)
			}
			return nil
		},
	}

	hf.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the page with the planned selections applied")
	return cmd
}

func writeSnapshot(page *snapshot.Accessor, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
