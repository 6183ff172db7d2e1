package main

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wideorder/widesync/internal/backfill"
	"github.com/wideorder/widesync/internal/estore"
	"github.com/wideorder/widesync/internal/projector"
	"github.com/wideorder/widesync/internal/timeparsing"
)

var (
	backfillStart string
	backfillEnd   string
	backfillBatch int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill --start <ts> [--end <ts>]",
	Short: "Load a historical window, then persist the handoff offset",
	Long: `Seed the document store from the source SQL tables for all work
orders created inside the window. On success the [binlog] section is
rewritten with the source's current offset and init_time is cleared,
so the next "widesync run" tails from exactly where the snapshot
ended.

Timestamps accept "2006-01-02 15:04:05", "2006-01-02", relative
offsets like -1d, and natural language like "last monday 9am".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now := time.Now()
		start, err := timeparsing.ParseTimestamp(backfillStart, now)
		if err != nil {
			return errors.Wrap(err, "parse --start")
		}
		end := now
		if backfillEnd != "" {
			if end, err = timeparsing.ParseTimestamp(backfillEnd, now); err != nil {
				return errors.Wrap(err, "parse --end")
			}
		}
		if !end.After(start) {
			return errors.Errorf("--end %s is not after --start %s", end, start)
		}

		store, err := estore.New(estore.Config{
			Addr:     cfg.Target.URL(),
			Username: cfg.Target.User,
			Password: cfg.Target.Password,
			Index:    cfg.Target.IndexName,
		})
		if err != nil {
			return err
		}
		defer store.Close()

		dispatcher := projector.NewDispatcher(store)
		pos, err := runBackfillWindow(cmd.Context(), dispatcher, start, end, backfillBatch)
		if err != nil {
			return err
		}

		if err := cfg.SaveOffset(pos.Name, pos.Pos, ""); err != nil {
			return errors.Wrap(err, "persist handoff offset")
		}
		log.WithFields(log.Fields{"file": pos.Name, "pos": pos.Pos}).Info("offset persisted, ready to tail")
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "Window start timestamp (required)")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "Window end timestamp (default: now)")
	backfillCmd.Flags().IntVar(&backfillBatch, "batch", backfill.DefaultBatch, "Work-order ids per IN (...) select")
	_ = backfillCmd.MarkFlagRequired("start")
}
