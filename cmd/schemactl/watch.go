package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"schemamodel/internal/logger"
	"schemamodel/internal/model"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Load the schema, then refresh it periodically and print what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			d, release, err := openTree(ctx, cfg)
			if err != nil {
				return err
			}
			defer release()
			if err := model.PopulateAll(ctx, d); err != nil {
				logger.Error("populate: %v", err)
			}
			return watch(ctx, cmd.OutOrStdout(), d, interval, count)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "time between refreshes")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many refreshes (0 runs until interrupted)")
	return cmd
}

// watch refreshes d every interval and prints the structural and property
// changes of each pass. A failed refresh is logged and retried next tick.
func watch(ctx context.Context, w io.Writer, d *model.Database, interval time.Duration, count int) error {
	events := model.Watch(d)
	defer events.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; count == 0 || n < count; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		events.Reset()
		if err := d.Refresh(ctx); err != nil {
			logger.Error("refresh: %v", err)
			continue
		}
		changed := 0
		for _, e := range events.Entries() {
			if e.Kind == model.EventTxStarted || e.Kind == model.EventTxEnded {
				continue
			}
			fmt.Fprintln(w, e)
			changed++
		}
		logger.Debug("refresh %d: %d changes", n+1, changed)
	}
	return nil
}
