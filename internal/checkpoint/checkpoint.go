// Package checkpoint persists the replication offset the pipeline has
// reached. Progress is tracked only through this offset: no event is
// acknowledged back to the source, and a restart replays from the last
// persisted position. Replays converge because every projection is
// idempotent.
package checkpoint

import (
	"context"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the tailing-phase write cadence.
const DefaultInterval = 5 * time.Minute

// Saver persists one offset image. *config.Config implements this with a
// full [binlog] section rewrite.
type Saver interface {
	SaveOffset(logFile string, logPos uint32, initTime string) error
}

// Checkpointer periodically persists the tailer's offset.
type Checkpointer struct {
	saver    Saver
	position func() mysql.Position
	interval time.Duration
}

// New returns a checkpointer reading offsets from position. interval <= 0
// uses DefaultInterval.
func New(saver Saver, position func() mysql.Position, interval time.Duration) *Checkpointer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checkpointer{saver: saver, position: position, interval: interval}
}

// Run writes the observed offset on every tick until ctx is done, then
// flushes once more. The final flush is best effort: its error is logged,
// not returned, so shutdown never fails on a checkpoint.
func (c *Checkpointer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.flush(); err != nil {
				log.WithError(err).Error("final checkpoint flush failed")
			}
			return nil
		case <-ticker.C:
			if err := c.flush(); err != nil {
				log.WithError(err).Error("checkpoint write failed")
			}
		}
	}
}

// Handoff eagerly persists the offset a completed backfill returned and
// clears the backfill trigger. The tailer starts from exactly this
// position.
func (c *Checkpointer) Handoff(pos mysql.Position) error {
	if err := c.saver.SaveOffset(pos.Name, pos.Pos, ""); err != nil {
		return errors.Wrap(err, "persist backfill handoff offset")
	}
	log.WithFields(log.Fields{"file": pos.Name, "pos": pos.Pos}).Info("backfill offset persisted")
	return nil
}

func (c *Checkpointer) flush() error {
	pos := c.position()
	if pos.Name == "" {
		return nil // nothing observed yet
	}
	if err := c.saver.SaveOffset(pos.Name, pos.Pos, ""); err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": pos.Name, "pos": pos.Pos}).Debug("checkpoint written")
	return nil
}
