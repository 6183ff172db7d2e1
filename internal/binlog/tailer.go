// Package binlog tails the MySQL replication log and turns row events
// into the pipeline's event shape. One blocking consumer delivers events
// in source-commit order; no reordering or deduplication happens here.
package binlog

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wideorder/widesync/internal/projector"
)

// Config selects the replication source and the tables to subscribe to.
type Config struct {
	Addr     string // host:port of the MySQL source
	User     string
	Password string
	Charset  string
	ServerID uint32
	Schemas  []string // schemas to subscribe to
	Tables   []string // table names within those schemas
}

// Sink receives each converted row event together with the stream
// position observed after it.
type Sink func(ev projector.Event, pos mysql.Position)

// Tailer is the single blocking consumer of the replication stream.
type Tailer struct {
	canal *canal.Canal
	sink  Sink

	mu        sync.Mutex
	pos       mysql.Position
	lastEvent time.Time
}

// New prepares a tailer. The subscription is row-events only; the dump
// phase is disabled because historical state comes from the backfill
// engine, not from a mysqldump pass.
func New(cfg Config, sink Sink) (*Tailer, error) {
	cc := canal.NewDefaultConfig()
	cc.Addr = cfg.Addr
	cc.User = cfg.User
	cc.Password = cfg.Password
	cc.Charset = cfg.Charset
	cc.ServerID = cfg.ServerID
	cc.Dump.ExecutionPath = ""
	// Keep fixed-point values as decimal.Decimal so normalization can
	// render them without scientific notation.
	cc.UseDecimal = true
	cc.IncludeTableRegex = tableRegexes(cfg.Schemas, cfg.Tables)

	c, err := canal.NewCanal(cc)
	if err != nil {
		return nil, errors.Wrapf(err, "open replication source %s", cfg.Addr)
	}

	t := &Tailer{canal: c, sink: sink, lastEvent: time.Now()}
	c.SetEventHandler(&eventHandler{tailer: t})
	return t, nil
}

// Run consumes the stream from the given offset until ctx is done or the
// subscription fails. A subscription failure is returned to the caller
// and is fatal: the process exits so its supervisor restarts it from the
// last persisted offset.
func (t *Tailer) Run(ctx context.Context, from mysql.Position) error {
	t.setPosition(from)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.canal.Close()
		case <-done:
		}
	}()

	log.WithFields(log.Fields{
		"file": from.Name,
		"pos":  from.Pos,
	}).Info("tailing replication stream")

	err := t.canal.RunFrom(from)
	if ctx.Err() != nil {
		return nil // graceful shutdown
	}
	return errors.Wrap(err, "replication stream")
}

// Position returns the last synced stream offset.
func (t *Tailer) Position() mysql.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// LastEventTime returns the wall-clock time of the last delivered event.
// The lag monitor reads this.
func (t *Tailer) LastEventTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastEvent
}

func (t *Tailer) setPosition(pos mysql.Position) {
	t.mu.Lock()
	t.pos = pos
	t.mu.Unlock()
}

func (t *Tailer) touch() {
	t.mu.Lock()
	t.lastEvent = time.Now()
	t.mu.Unlock()
}

// tableRegexes builds the canal include filter: one anchored
// schema.table pattern per configured pair.
func tableRegexes(schemas, tables []string) []string {
	out := make([]string, 0, len(schemas)*len(tables))
	for _, s := range schemas {
		for _, tb := range tables {
			out = append(out, "^"+regexp.QuoteMeta(s)+"\\."+regexp.QuoteMeta(tb)+"$")
		}
	}
	return out
}
