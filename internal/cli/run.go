package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cadence/internal/app"
)

// shutdownGrace bounds the whole stop sequence after a signal.
const shutdownGrace = 30 * time.Second

func newRunCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Long: `Run loads the config, starts every enabled job and blocks until SIGINT,
SIGTERM or a fatal error. The config file is watched and reapplied on change;
only jobs whose definition changed are restarted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), o.configPath)
		},
	}
}

func runDaemon(parent context.Context, cfgPath string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = stopReasonFor(sig)
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func stopReasonFor(sig os.Signal) app.StopReason {
	switch sig {
	case syscall.SIGTERM:
		return app.StopSIGTERM
	case os.Interrupt:
		return app.StopSIGINT
	default:
		return app.StopAppStop
	}
}
