package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sealight/filecustody/internal/models"
)

const recordColumns = `owner_id, file_name, size_bytes, status, wrapped_key,
       tag_id, expiry_time, advance_security, uploaded_at, last_decrypted_at`

// UpsertRecord creates or merges a file record. Only the upload-time fields
// are written; wrapped_key and last_decrypted_at are owned by their own
// patch operations so concurrent encrypt/decrypt updates stay disjoint.
func (db *DB) UpsertRecord(rec *models.FileRecord) error {
	query := `
		INSERT INTO file_records (
			record_key, owner_id, file_name, size_bytes, status,
			tag_id, expiry_time, advance_security, uploaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			tag_id = excluded.tag_id,
			expiry_time = excluded.expiry_time,
			advance_security = excluded.advance_security,
			uploaded_at = excluded.uploaded_at
	`

	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.StatusUploaded
	}

	_, err := db.conn.Exec(
		query,
		RecordKey(rec.OwnerID, rec.FileName),
		rec.OwnerID,
		rec.FileName,
		rec.SizeBytes,
		string(rec.Status),
		rec.TagID,
		rec.ExpiryTime,
		rec.AdvanceSecurity,
		rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by owner and sanitized file name. Records are
// addressable only through their owner; there is no cross-owner read path.
func (db *DB) GetRecord(ownerID, fileName string) (*models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records WHERE record_key = ?`

	row := db.conn.QueryRow(query, RecordKey(ownerID, fileName))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// SetWrappedKey patches only the wrapped key and advances the record to
// encrypted. Re-encryption overwrites the previous wrapped key.
func (db *DB) SetWrappedKey(ownerID, fileName, wrappedKeyB64 string) error {
	query := `UPDATE file_records SET wrapped_key = ?, status = ? WHERE record_key = ?`
	result, err := db.conn.Exec(query, wrappedKeyB64, string(models.StatusEncrypted), RecordKey(ownerID, fileName))
	if err != nil {
		return fmt.Errorf("failed to set wrapped key: %w", err)
	}
	return requireRow(result)
}

// TouchLastDecrypted patches only the last-decrypted timestamp and marks the
// record decrypted. Re-decryption just refreshes the timestamp.
func (db *DB) TouchLastDecrypted(ownerID, fileName string, at time.Time) error {
	query := `UPDATE file_records SET last_decrypted_at = ?, status = ? WHERE record_key = ?`
	result, err := db.conn.Exec(query, at.UTC(), string(models.StatusDecrypted), RecordKey(ownerID, fileName))
	if err != nil {
		return fmt.Errorf("failed to touch last decrypted: %w", err)
	}
	return requireRow(result)
}

// ListRecords returns all of an owner's records sorted case-insensitively
// by file name.
func (db *DB) ListRecords(ownerID string) ([]models.FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records WHERE owner_id = ? ORDER BY LOWER(file_name)`

	rows, err := db.conn.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	var records []models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.FileRecord, error) {
	rec := &models.FileRecord{}
	var (
		status     string
		wrappedKey sql.NullString
		tagID      sql.NullString
		expiry     sql.NullTime
		lastDec    sql.NullTime
	)

	err := s.Scan(
		&rec.OwnerID,
		&rec.FileName,
		&rec.SizeBytes,
		&status,
		&wrappedKey,
		&tagID,
		&expiry,
		&rec.AdvanceSecurity,
		&rec.UploadedAt,
		&lastDec,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = models.Status(status)
	rec.WrappedKey = wrappedKey.String
	if tagID.Valid {
		rec.TagID = &tagID.String
	}
	if expiry.Valid {
		t := expiry.Time
		rec.ExpiryTime = &t
	}
	if lastDec.Valid {
		t := lastDec.Time
		rec.LastDecryptedAt = &t
	}
	return rec, nil
}
