package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sealight/filecustody/internal/models"
)

// SyncUserProfile merges the decoded identity into the users collection.
// created_at is written once, on first sight of the uid; every later sync
// only refreshes the claim fields and last_login.
func (db *DB) SyncUserProfile(profile *models.UserProfile) error {
	query := `
		INSERT INTO users (uid, email, name, picture, public_key, last_login, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			picture = excluded.picture,
			public_key = excluded.public_key,
			last_login = excluded.last_login
	`

	now := time.Now().UTC()
	if profile.LastLogin.IsZero() {
		profile.LastLogin = now
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	_, err := db.conn.Exec(
		query,
		profile.UID,
		profile.Email,
		profile.Name,
		profile.Picture,
		profile.PublicKey,
		profile.LastLogin,
		profile.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to sync user profile: %w", err)
	}
	return nil
}

// GetUserProfile retrieves a stored profile by uid.
func (db *DB) GetUserProfile(uid string) (*models.UserProfile, error) {
	query := `
		SELECT uid, email, name, picture, public_key, last_login, created_at
		FROM users
		WHERE uid = ?
	`

	profile := &models.UserProfile{}
	var email, name, picture, publicKey sql.NullString

	err := db.conn.QueryRow(query, uid).Scan(
		&profile.UID,
		&email,
		&name,
		&picture,
		&publicKey,
		&profile.LastLogin,
		&profile.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	profile.Email = email.String
	profile.Name = name.String
	profile.Picture = picture.String
	profile.PublicKey = publicKey.String
	return profile, nil
}
