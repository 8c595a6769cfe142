package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"tellbot/internal/app"
	"tellbot/internal/plugin/builtin/tell"
	logx "tellbot/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgm, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(cfgm.Path())
			if err != nil {
				return err
			}
			a.Plugins().Register(tell.New())

			if err := a.Start(sigCtx); err != nil {
				stop(a, app.StopFatalError)
				return err
			}
			notify(daemon.SdNotifyReady)

			reason := app.StopSignal
			select {
			case <-sigCtx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			}
			notify(daemon.SdNotifyStopping)
			stop(a, reason)

			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Stop(ctx, reason)
}

// notify is a no-op outside a systemd unit with NOTIFY_SOCKET set.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logx.NewConsole("warn").Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
