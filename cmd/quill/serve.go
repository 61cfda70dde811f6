package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/quill/internal/autoenhance"
	"github.com/zulandar/quill/internal/dashboard"
	"github.com/zulandar/quill/internal/recording"
	"github.com/zulandar/quill/internal/telegraph"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Quill daemon",
		Long: "Serves the HTTP API, watches the recording state and enhances sessions\n" +
			"automatically when a recording stops. Posts run digests to chat when\n" +
			"notify.digest_cron is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from dashboard.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, appOpts{ConfigPath: configPath, Chat: true})
	if err != nil {
		return err
	}
	if port == 0 {
		port = a.cfg.Dashboard.Port
	}

	bus := recording.NewBus()
	poller, err := recording.NewPoller(recording.PollerOpts{
		DB:       a.db,
		Bus:      bus,
		Interval: a.cfg.PollInterval(),
	})
	if err != nil {
		return err
	}
	trigger, err := autoenhance.New(autoenhance.Opts{
		Source:   bus,
		Enhancer: a.orch,
		Views:    a.store,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return trigger.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error {
		return dashboard.Start(gctx, dashboard.StartOpts{
			DB:       a.db,
			Port:     port,
			Out:      out,
			Store:    a.store,
			Enhancer: a.orch,
			Hub:      a.hub,
			Stager:   trigger,
		})
	})
	if a.cfg.Notify.DigestCron != "" && len(a.adapters) > 0 {
		fmt.Fprintf(out, "Posting run digests on %q to %d chat adapter(s)\n", a.cfg.Notify.DigestCron, len(a.adapters))
		g.Go(func() error {
			return telegraph.RunDigest(gctx, telegraph.DigestOpts{
				DB:       a.db,
				Adapters: a.adapters,
				Cron:     a.cfg.Notify.DigestCron,
			})
		})
	}

	err = g.Wait()

	trigger.Wait()
	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer closeCancel()
	a.Close(closeCtx)
	return err
}
