package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// accountDir is the account-name index used by the file backends: a
// small sqlite file mapping accountName to the Account object's doId.
type accountDir struct {
	db *sql.DB
}

func openAccountDir(path string) (*accountDir, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open account directory %s: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		accountName TEXT PRIMARY KEY,
		doId        INTEGER NOT NULL UNIQUE
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init account directory %s: %w", path, err)
	}
	return &accountDir{db: db}, nil
}

func (d *accountDir) set(ctx context.Context, name string, doId uint32) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO accounts (accountName, doId) VALUES (?, ?)
		 ON CONFLICT(accountName) DO UPDATE SET doId = excluded.doId`,
		name, int64(doId))
	if err != nil {
		return fmt.Errorf("store account %q: %w", name, err)
	}
	return nil
}

func (d *accountDir) get(ctx context.Context, name string) (uint32, bool, error) {
	var doId int64
	err := d.db.QueryRowContext(ctx,
		`SELECT doId FROM accounts WHERE accountName = ?`, name).Scan(&doId)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup account %q: %w", name, err)
	}
	return uint32(doId), true, nil
}

func (d *accountDir) close() error {
	return d.db.Close()
}
