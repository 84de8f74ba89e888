package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trackflow/trackflow/pkg/dispatch"
	"github.com/trackflow/trackflow/pkg/telemetry"
	"github.com/trackflow/trackflow/pkg/tui"
	"github.com/trackflow/trackflow/pkg/watch"
)

// runRun drives the tracker loop: one goroutine owns the dispatcher and
// multiplexes console input, inbox commands and the idle tick, so the
// core stays single-threaded.
func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		exp := telemetry.NewExporter(telemetry.DefaultOTLPConfig(cfg.Telemetry.Endpoint))
		shutdown, err := exp.Init(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	t, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	tui.PrintHeader(version)
	tui.PrintState(t.core.Session().State())

	// Report any attempts a previous run left unresolved.
	if open, err := t.journal.OpenSent(ctx); err == nil && len(open) > 0 {
		tui.PrintFrame(fmt.Sprintf("Warning: %d unresolved transmission(s) from a previous run, duplicates possible.", len(open)))
	}
	if cfg.Journal.SweepAge > 0 {
		t.journal.Sweep(ctx, cfg.Journal.SweepAge)
	}

	commands := make(chan string, 16)

	inbox, err := watch.NewInbox(cfg.Link.InboxDir)
	if err != nil {
		return err
	}
	inbox.OnCommand = func(cmd string) {
		select {
		case commands <- cmd:
		case <-ctx.Done():
		}
	}
	inbox.OnError = func(err error) {
		if verbose {
			tui.PrintError(err)
		}
	}
	if err := inbox.Drain(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := inbox.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})

	g.Go(func() error {
		tui.PrintPrompt()
		return forwardLines(ctx, os.Stdin, commands)
	})

	g.Go(func() error {
		// The console counts as a connected operator link.
		t.core.LinkConnected()
		defer t.core.LinkDisconnected()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case raw := <-commands:
				tick(ctx, t.core, &raw, stop)
				tui.PrintPrompt()
			case <-ticker.C:
				tick(ctx, t.core, nil, stop)
			}
		}
	})

	return g.Wait()
}

// forwardLines pumps lines from r into out until r is exhausted or ctx
// is cancelled. The scanner runs detached because a blocked Read on a
// console has no way to be interrupted; on cancellation forwardLines
// returns immediately and the reader goroutine dies with the process.
func forwardLines(ctx context.Context, r io.Reader, out chan<- string) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			select {
			case out <- line:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// tick runs one dispatcher pass and renders its outbound frames.
func tick(ctx context.Context, core *dispatch.Core, inbound *string, stop func()) {
	sctx, span := telemetry.StartSpan(ctx, "dispatch.tick")
	out := core.Tick(sctx, time.Now(), inbound)
	span.End()

	for _, o := range out {
		switch o.Kind {
		case dispatch.RestartRequested:
			tui.PrintFrame("Restart requested, shutting down.")
			stop()
		default:
			tui.PrintFrame(o.Text)
		}
	}
}
