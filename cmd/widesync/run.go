package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wideorder/widesync/internal/alert"
	"github.com/wideorder/widesync/internal/backfill"
	"github.com/wideorder/widesync/internal/binlog"
	"github.com/wideorder/widesync/internal/checkpoint"
	"github.com/wideorder/widesync/internal/config"
	"github.com/wideorder/widesync/internal/estore"
	"github.com/wideorder/widesync/internal/monitor"
	"github.com/wideorder/widesync/internal/projector"
	"github.com/wideorder/widesync/internal/telemetry"
	"github.com/wideorder/widesync/internal/timeparsing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Backfill if configured, then tail the replication stream",
	Long: `Run the sync pipeline. When [binlog] init_time is set, the historical
window [init_time, now] is loaded first; the backfill's final offset is
persisted and the trigger cleared. Tailing then resumes from the
persisted offset. SIGINT/SIGTERM stop the loop after a final
checkpoint flush.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPipeline(cmd.Context())
	},
}

func runPipeline(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewPipeline()
	store, err := estore.New(estore.Config{
		Addr:     cfg.Target.URL(),
		Username: cfg.Target.User,
		Password: cfg.Target.Password,
		Index:    cfg.Target.IndexName,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := projector.NewDispatcher(store)

	if cfg.Binlog.InitTime != "" {
		if err := backfillPhase(ctx, dispatcher); err != nil {
			return err
		}
	}
	if cfg.Binlog.LogFile == "" {
		return errors.New("no replication offset: set [binlog] log_file/log_pos or init_time")
	}

	sink := func(ev projector.Event, _ mysql.Position) {
		metrics.EventConsumed(ctx, ev.Table)
		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			// One bad event never stops the stream.
			metrics.EventDropped(ctx, ev.Table)
			log.WithError(err).WithFields(log.Fields{
				"table":  ev.Table,
				"action": ev.Action,
			}).Error("event dropped")
		}
	}

	tailer, err := binlog.New(binlog.Config{
		Addr:     cfg.Source.Addr(),
		User:     cfg.Source.User,
		Password: cfg.Source.Password,
		Charset:  cfg.Source.Charset,
		ServerID: cfg.Source.ServerID,
		Schemas:  cfg.Source.Databases,
		Tables:   cfg.Source.Tables,
	}, sink)
	if err != nil {
		return err
	}
	metrics.ObserveLag(tailer.LastEventTime)

	cp := checkpoint.New(cfg, tailer.Position, checkpoint.DefaultInterval)
	mon := monitor.New(
		tailer.LastEventTime,
		alert.New(cfg.Alert.ToGroupKey),
		cfg.Monitor.DelayThreshold,
		cfg.Monitor.CheckInterval,
		cfg.Alert.ToUsers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tailer.Run(gctx, mysql.Position{Name: cfg.Binlog.LogFile, Pos: cfg.Binlog.LogPos})
	})
	g.Go(func() error { return cp.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return config.Watch(gctx, cfg.Path, reloadLogLevel) })

	err = g.Wait()
	if err == nil {
		log.Info("pipeline stopped")
	}
	return err
}

// backfillPhase runs the configured historical load and persists its
// handoff offset. The tailer starts only after this returns.
func backfillPhase(ctx context.Context, dispatcher *projector.Dispatcher) error {
	start, err := timeparsing.ParseTimestamp(cfg.Binlog.InitTime, time.Now())
	if err != nil {
		return errors.Wrapf(err, "parse [binlog] init_time %q", cfg.Binlog.InitTime)
	}

	log.WithField("start", cfg.Binlog.InitTime).Info("backfill triggered by init_time")
	pos, err := runBackfillWindow(ctx, dispatcher, start, time.Now(), backfill.DefaultBatch)
	if err != nil {
		return errors.Wrap(err, "backfill")
	}

	cp := checkpoint.New(cfg, nil, 0)
	return cp.Handoff(pos)
}

// reloadLogLevel re-reads the config file after an on-disk change and
// applies the [log] level. Everything else requires a restart.
func reloadLogLevel() {
	fresh, err := config.Load(cfg.Path)
	if err != nil {
		log.WithError(err).Warn("config changed but reload failed")
		return
	}
	applyLogLevel(fresh.Log.Level)
}
