package models

import "time"

// Status tracks where a file is in its custody lifecycle.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusEncrypted Status = "encrypted"
	StatusDecrypted Status = "decrypted"
)

// Identity is the decoded claim returned by the identity provider.
// The custody layer trusts it verbatim.
type Identity struct {
	UID     string `json:"uid"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// FileRecord is the ownership record for one file, keyed by
// (owner, sanitized file name). It survives across the
// upload -> encrypt -> decrypt transitions.
type FileRecord struct {
	OwnerID   string `json:"uid"`
	FileName  string `json:"file_name"`
	SizeBytes int64  `json:"size_bytes"`
	Status    Status `json:"status"`

	// WrappedKey is the base64 of the RSA-wrapped AES key, present only
	// after encryption. The document store is the durable source of truth
	// for it even if the filesystem copy is lost.
	WrappedKey string `json:"wrapped_key,omitempty"`

	// Reserved extension fields. Stored and returned but not interpreted.
	TagID           *string    `json:"tag_id"`
	ExpiryTime      *time.Time `json:"expiry_time"`
	AdvanceSecurity bool       `json:"advance_security"`

	UploadedAt      time.Time  `json:"uploaded_at"`
	LastDecryptedAt *time.Time `json:"last_decrypted_at"`
}

// UserProfile mirrors the identity claim into the document store on every
// authenticated request, plus the server public key handed to clients.
type UserProfile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Picture   string    `json:"picture,omitempty"`
	PublicKey string    `json:"public_key,omitempty"`
	LastLogin time.Time `json:"lastLogin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tag is a category label files can be filed under.
type Tag struct {
	TagID   string `json:"tag_id"`
	TagName string `json:"tag_name"`
}
