package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackflow/trackflow/pkg/dispatch"
	"github.com/trackflow/trackflow/pkg/tui"
	"github.com/trackflow/trackflow/pkg/uplink"
)

// oneShot builds the tracker, sends a single operator command through
// the dispatcher and prints the reply.
func oneShot(raw string, opts ...dispatch.Option) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := buildTracker(cfg, opts...)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, o := range t.core.Tick(ctx, time.Now(), &raw) {
		if o.Kind == dispatch.Message {
			tui.PrintFrame(o.Text)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return oneShot("ST")
}

func runLogs(cmd *cobra.Command, args []string) error {
	return oneShot("L")
}

func runValidate(cmd *cobra.Command, args []string) error {
	return oneShot("VD" + args[0])
}

// runTransmit drives one transmission with a progress bar.
func runTransmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bar := tui.TransmitBar("transmitting")
	pipe := uplink.New(t.modem, t.store,
		uplink.WithPayloadCeiling(cfg.Uplink.PayloadCeiling),
		uplink.WithMinSignal(cfg.Uplink.MinSignal),
		uplink.WithMaxAttempts(cfg.Uplink.MaxAttempts),
		uplink.WithBackoff(cfg.Uplink.Backoff),
		uplink.WithJournal(t.journal),
		uplink.WithProgress(func(pct int, status string) {
			bar.Describe(status)
			bar.Set(pct)
		}),
	)

	out := pipe.TransmitPending(ctx)
	bar.Finish()

	switch out.Kind {
	case uplink.Success:
		tui.PrintOK(fmt.Sprintf("sent %s in %d attempt(s), %s",
			tui.FormatBytes(int64(out.Bytes)), out.Attempts, out.Elapsed.Round(time.Millisecond)))
	case uplink.NothingToSend:
		tui.PrintFrame("Nothing to transmit.")
	case uplink.LinkTooWeak:
		tui.PrintFrame(fmt.Sprintf("Signal too weak (%d/5).", out.Quality))
	default:
		tui.PrintError(fmt.Errorf("transmission %s: %v", out.Kind, out.Err))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	if t.history == nil {
		return fmt.Errorf("history is disabled in the configuration")
	}

	sessions, err := t.history.ListSessions(limitFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Sessions (%d):\n", len(sessions))
	for _, s := range sessions {
		flag := ""
		if s.Expired {
			flag = "  [expired]"
		}
		fmt.Printf("  %s  %s  %s%s\n", s.ID[:8],
			s.StartedAt.Format(time.RFC3339),
			s.StoppedAt.Sub(s.StartedAt).Round(time.Second), flag)
	}

	txs, err := t.history.ListTransmissions(limitFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Transmissions (%d):\n", len(txs))
	for _, tx := range txs {
		fmt.Printf("  %s  %-18s  %s  %d attempt(s)\n",
			tx.At.Format(time.RFC3339), tx.Outcome,
			tui.FormatBytes(int64(tx.Bytes)), tx.Attempts)
	}

	stats, err := t.history.Stats()
	if err != nil {
		return err
	}
	if len(stats) > 0 {
		fmt.Println("Outcomes:")
		for outcome, count := range stats {
			fmt.Printf("  %-18s %d\n", outcome, count)
		}
	}
	return nil
}
