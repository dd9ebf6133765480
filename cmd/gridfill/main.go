package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/observability"
)

type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "gridfill",
		Short: "Fill a column of dropdowns in a web data grid",
		Long: `gridfill drives the dropdown column of a virtualized data grid in a browser:
starting from one designated cell it selects the same option row after row,
skipping rows already set and scrolling the grid as needed, until it reaches a
row that holds a different value.

Example:
  gridfill run "https://school.example/roster" --row 0 --target Math`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (silently ignore if not found)
			_ = godotenv.Load()

			if err := a.v.BindPFlag("automation.target_label", cmd.Root().PersistentFlags().Lookup("target")); err != nil {
				return err
			}
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "gridfill"})
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			a.logger = observability.GetLogger()
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./gridfill.yaml)")
	root.PersistentFlags().String("target", "", "option label to select in every row (overrides automation.target_label)")

	root.AddCommand(a.runCmd(), a.serveCmd(), a.planCmd(), a.configCmd())
	return root
}
