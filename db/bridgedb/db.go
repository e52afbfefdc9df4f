// Package bridgedb implements SQLite persistence for the retained-bridge
// hint: the {addr, channel} record a client may save across restarts and
// feed back into bridge discovery to skip the channel scan.
//
// The package is named for the kind of record it stores, not for which
// node type uses it: clients are the primary consumers of the hint, but
// a bridge host may also save its own so co-located clients can read it.
package bridgedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"

	"github.com/davidb137/spsp/pkg/local"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

// CurrentVersion is the schema version this package migrates up to.
const CurrentVersion = 1

// DB stores the retained-bridge hint in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sqlite3 database at name and
// migrates it to CurrentVersion.
func Open(name string) (*DB, error) {
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, fmt.Errorf("bridgedb: open %q: %w", name, err)
	}
	db := &DB{x}
	if err := db.MigrateUp(context.Background(), CurrentVersion); err != nil {
		x.Close()
		return nil, fmt.Errorf("bridgedb: migrate %q: %w", name, err)
	}
	return db, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.x.Close()
}

// Load reads the persisted retained-bridge hint. It reports found=false,
// nil error if no hint has been saved yet.
func (db *DB) Load() (hint local.RetainedHint, found bool, err error) {
	var row struct {
		Addr    string `db:"addr"`
		Channel int    `db:"channel"`
	}
	if err = db.x.Get(&row, `SELECT addr, channel FROM retained_bridge WHERE id = 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return local.RetainedHint{}, false, nil
		}
		return local.RetainedHint{}, false, fmt.Errorf("bridgedb: load: %w", err)
	}

	addr, err := spspaddr.Parse(row.Addr)
	if err != nil {
		return local.RetainedHint{}, false, fmt.Errorf("bridgedb: load: parse addr: %w", err)
	}
	return local.RetainedHint{Addr: addr, Channel: row.Channel}, true, nil
}

// Save persists hint, replacing any previously saved hint.
func (db *DB) Save(hint local.RetainedHint) error {
	if _, err := db.x.NamedExec(`
		INSERT INTO retained_bridge (id, addr, channel)
		VALUES (1, :addr, :channel)
		ON CONFLICT (id) DO UPDATE SET addr = :addr, channel = :channel
	`, map[string]any{
		"addr":    hint.Addr.String(),
		"channel": hint.Channel,
	}); err != nil {
		return fmt.Errorf("bridgedb: save: %w", err)
	}
	return nil
}
