package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sealight/filecustody/internal/models"
)

// DefaultTagNames are the categories seeded on startup.
var DefaultTagNames = []string{
	"Academics",
	"goverment_documents",
	"finance",
	"medical_records",
	"business_documents",
	"bills",
	"tax_records",
	"back_documents",
	"presonal_documents",
	"archive",
}

// TagIDFromName derives the stable id for a tag name.
func TagIDFromName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SeedTags creates or merges the given tag names and returns how many were
// written. Blank names are skipped.
func (db *DB) SeedTags(tagNames []string) (int, error) {
	query := `
		INSERT INTO tags (tag_id, tag_name) VALUES (?, ?)
		ON CONFLICT(tag_id) DO UPDATE SET tag_name = excluded.tag_name
	`

	count := 0
	for _, name := range tagNames {
		cleaned := strings.TrimSpace(name)
		if cleaned == "" {
			continue
		}
		if _, err := db.conn.Exec(query, TagIDFromName(cleaned), cleaned); err != nil {
			return count, fmt.Errorf("failed to seed tag %q: %w", cleaned, err)
		}
		count++
	}
	return count, nil
}

// ListTags returns all tags sorted case-insensitively by name.
func (db *DB) ListTags() ([]models.Tag, error) {
	rows, err := db.conn.Query(`SELECT tag_id, tag_name FROM tags ORDER BY LOWER(tag_name)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.TagID, &tag.TagName); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}
	return tags, nil
}

// TagExists reports whether a tag id is known.
func (db *DB) TagExists(tagID string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM tags WHERE tag_id = ?`, tagID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, fmt.Errorf("failed to check tag: %w", err)
}
