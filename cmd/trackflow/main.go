// Trackflow - command and telemetry core for field-deployed trackers.
// Drives sampling sessions, bounded log storage and signal-gated
// transmission over a long-range link.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/trackflow/trackflow/pkg/config"
	"github.com/trackflow/trackflow/pkg/dispatch"
	"github.com/trackflow/trackflow/pkg/history"
	"github.com/trackflow/trackflow/pkg/journal"
	"github.com/trackflow/trackflow/pkg/logstore"
	"github.com/trackflow/trackflow/pkg/uplink"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	dataDirFlag string
	signalFlag  int
	limitFlag   int
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trackflow",
	Short: "Trackflow - remote tracker command and telemetry core",
	Long: `Trackflow runs the command and telemetry core of a field-deployed
tracker: sampling sessions, bounded append-only log storage, and
chunked signal-gated transmission over the long-range link.

Run 'trackflow run' for the interactive operator console.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tracker loop with the operator console",
	RunE:  runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the tracker status report",
	RunE:  runStatus,
}

var transmitCmd = &cobra.Command{
	Use:   "transmit",
	Short: "Transmit pending log data now",
	RunE:  runTransmit,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List stored log files",
	RunE:  runLogs,
}

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Audit a log file's records and checksums",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sessions and transmissions",
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the record file directory")
	rootCmd.PersistentFlags().IntVar(&signalFlag, "signal", -1, "fix the simulated signal quality (0-5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	historyCmd.Flags().IntVar(&limitFlag, "limit", 20, "maximum rows to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(transmitCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig applies flag overrides on top of the managed hierarchy.
func loadConfig() (*config.Config, error) {
	mgr := config.NewManager()
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	if dataDirFlag != "" {
		cfg.Storage.DataDir = dataDirFlag
	}
	return cfg, nil
}

// tracker bundles the assembled core and its owned components.
type tracker struct {
	core    *dispatch.Core
	store   *logstore.Store
	pipe    *uplink.Pipeline
	journal *journal.Journal
	history *history.Store
	modem   *simModem

	closers []func() error
}

func (t *tracker) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

// buildTracker assembles the store, journal, pipeline and dispatcher
// from configuration. The modem and sampler are the built-in
// simulators; hardware deployments swap them at this seam.
func buildTracker(cfg *config.Config, opts ...dispatch.Option) (*tracker, error) {
	fs := afero.NewOsFs()

	store, err := logstore.New(fs, cfg.Storage.DataDir,
		logstore.WithCeiling(cfg.Storage.FileCeiling))
	if err != nil {
		return nil, err
	}

	t := &tracker{store: store}

	var backend journal.Backend
	if cfg.Journal.Backend == "redis" && cfg.Journal.RedisAddress != "" {
		redisCfg := journal.DefaultRedisConfig(cfg.Journal.RedisAddress)
		redisCfg.Database = cfg.Journal.RedisDB
		rb, err := journal.NewRedisBackend(redisCfg)
		if err != nil {
			return nil, err
		}
		t.closers = append(t.closers, rb.Close)
		backend = rb
	} else {
		fb, err := journal.NewFileBackend(fs, cfg.Storage.JournalDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	}
	t.journal = journal.New(backend)

	t.modem = newSimModem(signalFlag)
	t.pipe = uplink.New(t.modem, store,
		uplink.WithPayloadCeiling(cfg.Uplink.PayloadCeiling),
		uplink.WithMinSignal(cfg.Uplink.MinSignal),
		uplink.WithMaxAttempts(cfg.Uplink.MaxAttempts),
		uplink.WithBackoff(cfg.Uplink.Backoff),
		uplink.WithJournal(t.journal),
	)

	coreOpts := []dispatch.Option{
		dispatch.WithFrameSize(cfg.Link.FrameSize),
		dispatch.WithAutoTransmit(cfg.Link.AutoTransmit),
		dispatch.WithJournal(t.journal),
	}
	if cfg.History.Enabled {
		hs, err := history.NewStore(cfg.History.Database)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "history disabled: %v\n", err)
			}
		} else {
			t.history = hs
			t.closers = append(t.closers, hs.Close)
			coreOpts = append(coreOpts, dispatch.WithRecorder(hs))
		}
	}
	coreOpts = append(coreOpts, opts...)

	t.core = dispatch.New(store, t.pipe, newSimSampler(), coreOpts...)
	return t, nil
}
