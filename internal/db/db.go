// Package db is the document store for user profiles and file-ownership
// records, backed by sqlite. File records are addressed by the flat key
// "<owner_id>:<sanitized_filename>", so ownership isolation is by key,
// not by a separate ACL.
package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	ErrRecordNotFound = errors.New("file record not found")
)

type DB struct {
	conn *sql.DB
}

// New opens the database and initializes the schema.
func New(dataSourceName string) (*DB, error) {
	conn, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writers queue instead of failing under concurrent requests; the
	// store's per-document write ordering is the only atomicity callers
	// may assume.
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordKey derives the document id for a file record.
func RecordKey(ownerID, fileName string) string {
	return ownerID + ":" + fileName
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
