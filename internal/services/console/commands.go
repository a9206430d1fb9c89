package console

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/dataaccess"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/logging"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/model/entities"
	"github.com/LeonardoBeccarini/greenhouse_monitor/internal/monitoring"
)

const (
	NoticeEditNotAllowed = "Исправлять значения может только старший специалист"
	NoticeRecalculating  = "Пересчёт состояния..."
)

// options are the persistent flags shared by every command.
type options struct {
	role      string
	mode      string
	baseURL   string
	fleet     string
	logLevel  string
	timeout   time.Duration
	mockDelay time.Duration
}

type app struct {
	opts    options
	role    entities.Role
	backend dataaccess.DataAccess
	console *Console
	log     logging.Logger
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := time.ParseDuration(v); err == nil {
			return n
		}
	}
	return d
}

// NewRootCmd builds the console CLI. Flag defaults come from the environment.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "greenhouse-console",
		Short: "Operator console for the greenhouse monitoring pipeline",
		Long: `greenhouse-console shows the fleet status, measurement charts and the
state history of each greenhouse, and lets operators correct values and
comment states.

In mock mode data comes from the synthetic generator; in live mode the
console talks to the historian HTTP API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.role, "role", env("CONSOLE_ROLE", string(entities.RoleSpecialist)), "Operator role: specialist, senior-specialist")
	pf.StringVar(&a.opts.mode, "mode", env("DATA_MODE", string(dataaccess.ModeMock)), "Data source: mock, live")
	pf.StringVar(&a.opts.baseURL, "base-url", env("HISTORIAN_URL", "http://localhost:8080"), "Historian API base URL (live mode)")
	pf.StringVar(&a.opts.fleet, "fleet", env("FLEET_CONFIG", ""), "Fleet JSON file (mock mode)")
	pf.StringVar(&a.opts.logLevel, "log-level", env("LOG_LEVEL", "warn"), "Log level")
	pf.DurationVar(&a.opts.timeout, "timeout", envDuration("HISTORIAN_TIMEOUT", 10*time.Second), "Request timeout (live mode, recompute excluded)")
	pf.DurationVar(&a.opts.mockDelay, "mock-delay", envDuration("MOCK_RECOMPUTE_DELAY", 0), "Simulated recompute latency (mock mode, 0 = default)")

	root.AddCommand(
		newRegionsCmd(a),
		newGreenhousesCmd(a),
		newStatusCmd(a),
		newChartCmd(a),
		newStatesCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	role, err := entities.ParseRole(a.opts.role)
	if err != nil {
		return err
	}
	a.role = role
	a.log = logging.NewLoggerTo(cmd.ErrOrStderr(), a.opts.logLevel)

	var fleet entities.Fleet
	if a.opts.fleet != "" {
		if fleet, err = entities.LoadFleet(a.opts.fleet); err != nil {
			return err
		}
	}
	a.backend, err = dataaccess.New(dataaccess.Config{
		Mode:           dataaccess.Mode(a.opts.mode),
		BaseURL:        a.opts.baseURL,
		Timeout:        a.opts.timeout,
		Fleet:          fleet,
		RecomputeDelay: a.opts.mockDelay,
		Logger:         a.log,
	})
	if err != nil {
		return err
	}
	a.console = New(cmd.OutOrStdout(), cmd.InOrStdin())
	return nil
}

func newRegionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.backend.ListRegions(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing regions: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.Name)
			}
			return tw.Flush()
		},
	}
}

func newGreenhousesCmd(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "greenhouses",
		Short: "List greenhouses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.backend.ListGreenhouses(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing greenhouses: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tREGION")
			for _, g := range entities.InRegion(list, region) {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", g.ID, g.Name, g.RegionID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Only greenhouses of this region")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Count greenhouses by current state",
		Long: `Show how many greenhouses are currently ok, in warning or in alarm.
The current state of a greenhouse is its most recent state of the last 30 days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			agg := monitoring.NewStatusAggregator(a.backend, a.console, a.log)
			_, err := agg.Counts(cmd.Context(), region)
			return err
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "Region id (omit for the whole fleet)")
	return cmd
}

func newChartCmd(a *app) *cobra.Command {
	var (
		gh      string
		mtype   string
		rng     string
		pngPath string
		edit    int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Show the measurement series of a greenhouse",
		Long: `Show the series of one measurement type over the selected range
(hour, day, week, month, year). With --edit a senior specialist can
correct the value of the point with that index; with --png the series
is also drawn to a PNG file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := entities.ParseMeasurementType(mtype)
			if err != nil {
				return err
			}
			sel, err := monitoring.ParseSelector(rng)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b := monitoring.NewChartSeriesBuilder(a.backend, a.console, a.console, a.console, a.log)
			if _, err := b.Load(ctx, gh, t, sel); err != nil {
				return err
			}
			if refresh {
				if _, err := b.Refresh(ctx); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("edit") {
				outcome, err := b.EditPoint(ctx, a.role, edit)
				if outcome == monitoring.EditNotAllowed {
					a.console.Notify(NoticeEditNotAllowed)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "edit: %s\n", outcome)
				if err != nil {
					return err
				}
			}
			if pngPath != "" {
				return writePNG(pngPath, b.Series(), cmd)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gh, "gh", "", "Greenhouse id")
	cmd.Flags().StringVar(&mtype, "type", string(entities.Temperature), "Measurement type: T, phi, pH")
	cmd.Flags().StringVar(&rng, "range", string(monitoring.SelectWeek), "Range: hour, day, week, month, year")
	cmd.Flags().StringVar(&pngPath, "png", "", "Also draw the series to this PNG file")
	cmd.Flags().IntVar(&edit, "edit", 0, "Index of the point to correct")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ask for a fresh reading before showing the series")
	_ = cmd.MarkFlagRequired("gh")
	return cmd
}

func writePNG(path string, s entities.Series, cmd *cobra.Command) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("png: %w", err)
	}
	if err := RenderPNG(f, s, DefaultPNGWidth, DefaultPNGHeight); err != nil {
		f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("png: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "PNG: %s\n", path)
	return nil
}

func newStatesCmd(a *app) *cobra.Command {
	var (
		gh        string
		recompute bool
		comment   string
	)
	cmd := &cobra.Command{
		Use:   "states",
		Short: "Show the state history of a greenhouse",
		Long: `Show the states of the last 30 days, most recent first.
--recompute asks the server to recompute the history and waits for it;
--comment STATE_ID asks for a new comment for that state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			vm := monitoring.NewStateHistoryViewModel(a.backend, a.console, a.console, a.console, a.log)
			if _, err := vm.Load(ctx, gh); err != nil {
				return err
			}
			if recompute {
				done := make(chan struct{})
				var rerr error
				go func() {
					defer close(done)
					_, rerr = vm.Recalculate(ctx)
				}()
				a.console.Busy(done, vm.IsRecalculating, NoticeRecalculating)
				if rerr != nil {
					return rerr
				}
			}
			if comment != "" {
				saved, err := vm.StartEditing(ctx, comment)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "comment saved: %s\n", strconv.FormatBool(saved))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&gh, "gh", "", "Greenhouse id")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Recompute the state history first")
	cmd.Flags().StringVar(&comment, "comment", "", "State id to comment")
	_ = cmd.MarkFlagRequired("gh")
	return cmd
}
