// Package export stores detected pulses as CSV or in a SQL database.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	// Blind import support for sqlite3 used by sql.go.
	_ "github.com/mattn/go-sqlite3"

	"github.com/ftl/tagstrainer/config"
	"github.com/ftl/tagstrainer/detector"
)

// Exporter writes all pulses from the channel until the channel is closed or the context is done.
type Exporter interface {
	Write(context.Context, <-chan detector.Pulse) error
}

// Open creates the exporter that is configured in the settings. The returned closer releases the underlying file or database.
// Stdout is used as CSV destination if the file name is "-".
func Open(settings config.ExportSettings) (Exporter, io.Closer, error) {
	switch settings.Type {
	case config.ExportCSV:
		if settings.File == "-" {
			return NewCSV(os.Stdout), nopCloser{}, nil
		}
		f, err := os.OpenFile(settings.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open CSV file %q: %w", settings.File, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		result := NewCSV(f)
		result.Header = info.Size() == 0
		return result, f, nil
	case config.ExportSQLite:
		db, err := sql.Open("sqlite3", settings.File)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open sqlite DB %q: %w", settings.File, err)
		}
		return &SQL{DB: db, Dialect: SQLite}, db, nil
	case config.ExportMySQL:
		cfg := mysql.Config{
			User:                 settings.MySQL.User,
			Passwd:               settings.MySQL.Password,
			Net:                  "tcp",
			Addr:                 settings.MySQL.Addr,
			DBName:               settings.MySQL.Database,
			AllowNativePasswords: true,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open MySQL DB %q: %w", settings.MySQL.Addr, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		return &SQL{DB: db, Dialect: MySQL}, db, nil
	default:
		return nil, nil, fmt.Errorf("%q is not a supported export method, pick one of: csv, sqlite, mysql", settings.Type)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
