package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/appetiteclub/apt"
	_ "modernc.org/sqlite"
)

// Keys written by the tableside runtime.
const (
	cartKey          = "client-cart"
	restaurantKey    = "client-restaurant-id"
	tableRefPrefix   = "table-ref-"
	tokenRefPrefix   = "token-ref-"
	namePrefix       = "customer-name-"
	phonePrefix      = "customer-phone-"
	defaultStorePath = "tableside.db"
)

var ErrStoreMissing = errors.New("store file does not exist")

// StorePath resolves store.path, falling back to the runtime default.
func StorePath(config *apt.Config) string {
	path, _ := config.GetString("store.path")
	if path == "" {
		return defaultStorePath
	}
	return path
}

// OpenStore opens an existing tableside store. It never creates one.
func OpenStore(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrStoreMissing)
		}
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	return db, nil
}

func deleteKeys(ctx context.Context, db *sql.DB, keys ...string) (int64, error) {
	var total int64
	for _, key := range keys {
		res, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		if err != nil {
			return total, fmt.Errorf("delete %s: %w", key, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
