// Package db opens the SQLite metadata store that holds the workspace
// registry and applies its embedded migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"
)

// Mode selects how a pool is tuned.
type Mode string

// Pool modes.
const (
	// ModeWrite serializes writers on one connection with immediate
	// transactions.
	ModeWrite Mode = "write"
	// ModeRead allows several concurrent readers.
	ModeRead Mode = "read"
)

const (
	busyTimeoutMillis = "5000"
	synchronous       = "NORMAL"
	journalMode       = "WAL"
	defaultReaders    = 4
	pingTimeout       = 5 * time.Second
)

// Open opens a pool on the SQLite file at path. maxOpen sizes a read pool
// (0 means 4) and is ignored for writes.
func Open(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	conn, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}
	if mode == ModeWrite {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		if maxOpen <= 0 {
			maxOpen = defaultReaders
		}
		conn.SetMaxOpenConns(maxOpen)
		conn.SetMaxIdleConns(maxOpen)
	}
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return conn, nil
}

// Store is a write pool and a read pool on the same file.
type Store struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenStore opens both pools, migrating the schema through the write pool
// before the read pool is opened.
func OpenStore(path string, readers int) (*Store, error) {
	w, err := Open(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(w); err != nil {
		_ = w.Close()
		return nil, err
	}
	r, err := Open(path, ModeRead, readers)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Store{Write: w, Read: r}, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.Read.Close()
	werr := s.Write.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func dsn(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_synchronous", synchronous)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
