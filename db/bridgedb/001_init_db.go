package bridgedb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func init() {
	migrate(up001, down001)
}

func up001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE retained_bridge (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			addr    TEXT NOT NULL,
			channel INTEGER NOT NULL
		) STRICT;
	`); err != nil {
		return fmt.Errorf("create retained_bridge table: %w", err)
	}
	return nil
}

func down001(ctx context.Context, tx *sqlx.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE retained_bridge`); err != nil {
		return fmt.Errorf("drop retained_bridge table: %w", err)
	}
	return nil
}
