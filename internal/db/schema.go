package db

const schema = `
CREATE TABLE IF NOT EXISTS file_records (
    record_key TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'uploaded',
    wrapped_key TEXT,
    tag_id TEXT,
    expiry_time DATETIME,
    advance_security INTEGER NOT NULL DEFAULT 0,
    uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_decrypted_at DATETIME,
    UNIQUE(owner_id, file_name)
);

CREATE INDEX IF NOT EXISTS idx_file_records_owner ON file_records(owner_id);

CREATE TABLE IF NOT EXISTS users (
    uid TEXT PRIMARY KEY,
    email TEXT,
    name TEXT,
    picture TEXT,
    public_key TEXT,
    last_login DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tags (
    tag_id TEXT PRIMARY KEY,
    tag_name TEXT NOT NULL
);
`
