// Package monitor watches replication lag. It only observes: a stalled
// stream raises an alert, it never touches the tailer or the store.
package monitor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wideorder/widesync/internal/alert"
)

// Monitor alerts when no replication event has arrived for longer than
// the threshold. One alert per breach episode: the monitor re-arms only
// after the stream recovers.
type Monitor struct {
	lastEvent func() time.Time
	now       func() time.Time
	sink      alert.Sink
	threshold time.Duration
	interval  time.Duration
	mentions  []string

	breached bool
}

// New returns a monitor reading the last event time from lastEvent.
func New(lastEvent func() time.Time, sink alert.Sink, threshold, interval time.Duration, mentions []string) *Monitor {
	return &Monitor{
		lastEvent: lastEvent,
		now:       time.Now,
		sink:      sink,
		threshold: threshold,
		interval:  interval,
		mentions:  mentions,
	}
}

// Run checks the lag on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	gap := m.now().Sub(m.lastEvent())
	if gap <= m.threshold {
		if m.breached {
			m.breached = false
			log.WithField("gap", gap.Round(time.Second)).Info("replication stream recovered")
		}
		return
	}

	log.WithFields(log.Fields{
		"gap":       gap.Round(time.Second),
		"threshold": m.threshold,
	}).Warn("replication stream is lagging")

	if m.breached {
		return // already alerted for this episode
	}
	text := fmt.Sprintf("work-order sync: no replication event for %s (threshold %s)",
		gap.Round(time.Second), m.threshold)
	if err := m.sink.Send(ctx, text, m.mentions); err != nil {
		// Leave breached unset so the next tick retries the alert.
		log.WithError(err).Error("lag alert delivery failed")
		return
	}
	m.breached = true
}
