package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/wideorder/widesync/internal/backfill"
	"github.com/wideorder/widesync/internal/config"
	"github.com/wideorder/widesync/internal/projector"
)

// openSource opens the SQL connection the backfill engine reads from.
// The replication tailer holds its own connection; this one is closed
// when the backfill finishes.
func openSource(src config.Source) (*sql.DB, error) {
	dc := mysqldrv.NewConfig()
	dc.Net = "tcp"
	dc.Addr = src.Addr()
	dc.User = src.User
	dc.Passwd = src.Password
	dc.DBName = src.Databases[0]
	dc.Params = map[string]string{"charset": src.Charset}

	db, err := sql.Open("mysql", dc.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open backfill source")
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

// runBackfillWindow loads one historical window through the dispatcher
// and returns the source's replication offset at completion.
func runBackfillWindow(ctx context.Context, dispatcher *projector.Dispatcher, start, end time.Time, batch int) (mysql.Position, error) {
	db, err := openSource(cfg.Source)
	if err != nil {
		return mysql.Position{}, err
	}
	defer db.Close()

	engine := backfill.New(db, dispatcher, cfg.Source.Databases[0], batch)
	return engine.Run(ctx, start, end)
}
