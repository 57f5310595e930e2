// Package custody binds every stored artifact to exactly one owner and
// category. It is the single facade the HTTP layer calls: it validates
// names, enforces ownership on every read path, and orchestrates the key
// custodian, the envelope cipher and the file record store.
package custody

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sealight/filecustody/internal/blobfs"
	"github.com/sealight/filecustody/internal/db"
	"github.com/sealight/filecustody/internal/envelope"
	"github.com/sealight/filecustody/internal/keys"
	"github.com/sealight/filecustody/internal/models"
)

var (
	ErrInvalidFilename       = errors.New("invalid filename")
	ErrNameCollision         = errors.New("a file with this name already exists")
	ErrBlobNotFound          = errors.New("file not found on disk")
	ErrAccessDenied          = errors.New("access denied for requested file")
	ErrWrappedKeyUnavailable = errors.New("wrapped file key unavailable")
)

// EncryptedSuffix and KeySuffix name the artifact pair an encryption leaves
// in the encrypted category: <name>.enc beside <name>.key.
const (
	EncryptedSuffix = ".enc"
	KeySuffix       = ".key"
)

// Gateway orchestrates uploads, encryption, decryption and download
// authorization for one blob store, document store and key custodian.
type Gateway struct {
	records *db.DB
	blobs   *blobfs.Store
	keys    *keys.Custodian
}

// NewGateway wires the gateway's collaborators.
func NewGateway(records *db.DB, blobs *blobfs.Store, custodian *keys.Custodian) *Gateway {
	return &Gateway{records: records, blobs: blobs, keys: custodian}
}

// UploadMeta carries the optional per-file metadata supplied with batch
// uploads. Expiry and tag are stored on the record but not interpreted.
type UploadMeta struct {
	TagID      *string
	ExpiryTime *time.Time
}

// RegisterUpload sanitizes the name, streams content into the uploads
// category with fail-if-exists semantics, and creates the ownership record
// in state uploaded. The exclusive create is what makes two concurrent
// uploads of the same name resolve to one winner and one ErrNameCollision.
func (g *Gateway) RegisterUpload(ownerID, rawName string, content io.Reader, meta *UploadMeta) (*models.FileRecord, error) {
	safeName, err := SanitizeFilename(rawName)
	if err != nil {
		return nil, err
	}

	size, err := g.blobs.Create(blobfs.CategoryUploads, safeName, content)
	if blobfs.IsExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNameCollision, safeName)
	}
	if err != nil {
		return nil, err
	}

	rec := &models.FileRecord{
		OwnerID:    ownerID,
		FileName:   safeName,
		SizeBytes:  size,
		Status:     models.StatusUploaded,
		UploadedAt: time.Now().UTC(),
	}
	if meta != nil {
		rec.TagID = meta.TagID
		rec.ExpiryTime = meta.ExpiryTime
	}

	if err := g.records.UpsertRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// EncryptResult names the artifact pair a successful encryption produced.
type EncryptResult struct {
	EncryptedName string
	KeyName       string
}

// Encrypt envelope-encrypts an owned, uploaded file. The ciphertext and the
// wrapped key are fully computed in memory before anything is written, so a
// cryptographic failure never leaves a partial artifact. Re-encrypting an
// already encrypted record is allowed; the fresh wrapped key supersedes the
// old one.
func (g *Gateway) Encrypt(ownerID, rawName string) (*EncryptResult, error) {
	safeName, err := SanitizeFilename(rawName)
	if err != nil {
		return nil, err
	}

	if _, err := g.records.GetRecord(ownerID, safeName); err != nil {
		return nil, err
	}
	if !g.blobs.Exists(blobfs.CategoryUploads, safeName) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, safeName)
	}

	if err := g.keys.EnsureKeys(); err != nil {
		return nil, err
	}
	pub, err := g.keys.PublicKey()
	if err != nil {
		return nil, err
	}

	plaintext, err := g.blobs.Read(blobfs.CategoryUploads, safeName)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	blob, wrappedKey, err := envelope.Encrypt(plaintext, pub)
	if err != nil {
		return nil, err
	}

	encryptedName := safeName + EncryptedSuffix
	keyName := safeName + KeySuffix
	if err := g.blobs.Write(blobfs.CategoryEncrypted, encryptedName, blob); err != nil {
		return nil, fmt.Errorf("failed to write encrypted file: %w", err)
	}
	if err := g.blobs.Write(blobfs.CategoryEncrypted, keyName, wrappedKey); err != nil {
		return nil, fmt.Errorf("failed to write wrapped key: %w", err)
	}

	wrapped := base64.StdEncoding.EncodeToString(wrappedKey)
	if err := g.records.SetWrappedKey(ownerID, safeName, wrapped); err != nil {
		return nil, err
	}

	return &EncryptResult{EncryptedName: encryptedName, KeyName: keyName}, nil
}

// Decrypt recovers the plaintext of an owned, encrypted file and returns the
// output blob name. The wrapped key is resolved from the on-disk .key file
// first, falling back to the record's wrapped_key field: the document store
// is the durable source of truth even if the filesystem copy is lost, and a
// successful fallback repairs the filesystem copy.
func (g *Gateway) Decrypt(ownerID, rawName string) (string, error) {
	safeName, err := SanitizeFilename(rawName)
	if err != nil {
		return "", err
	}

	rec, err := g.records.GetRecord(ownerID, safeName)
	if err != nil {
		return "", err
	}

	encryptedName := safeName + EncryptedSuffix
	if !g.blobs.Exists(blobfs.CategoryEncrypted, encryptedName) {
		return "", fmt.Errorf("%w: %s", ErrBlobNotFound, encryptedName)
	}

	wrappedKey, err := g.resolveWrappedKey(rec, safeName)
	if err != nil {
		return "", err
	}

	if err := g.keys.EnsureKeys(); err != nil {
		return "", err
	}
	priv, err := g.keys.PrivateKey()
	if err != nil {
		return "", err
	}

	blob, err := g.blobs.Read(blobfs.CategoryEncrypted, encryptedName)
	if err != nil {
		return "", fmt.Errorf("failed to read encrypted file: %w", err)
	}

	plaintext, err := envelope.Decrypt(blob, wrappedKey, priv)
	if err != nil {
		return "", err
	}

	// Output is written only after unpadding succeeded.
	if err := g.blobs.Write(blobfs.CategoryDecrypted, safeName, plaintext); err != nil {
		return "", fmt.Errorf("failed to write decrypted file: %w", err)
	}

	if err := g.records.TouchLastDecrypted(ownerID, safeName, time.Now().UTC()); err != nil {
		return "", err
	}
	return safeName, nil
}

// resolveWrappedKey implements the two-tier lookup: filesystem first, then
// the persisted record field as fallback-and-repair.
func (g *Gateway) resolveWrappedKey(rec *models.FileRecord, safeName string) ([]byte, error) {
	keyName := safeName + KeySuffix
	wrappedKey, err := g.blobs.Read(blobfs.CategoryEncrypted, keyName)
	if err == nil {
		return wrappedKey, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read wrapped key: %w", err)
	}

	if rec.WrappedKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrWrappedKeyUnavailable, safeName)
	}
	wrappedKey, err = base64.StdEncoding.DecodeString(rec.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key is not valid base64", ErrWrappedKeyUnavailable)
	}

	if err := g.blobs.Write(blobfs.CategoryEncrypted, keyName, wrappedKey); err != nil {
		return nil, fmt.Errorf("failed to restore wrapped key file: %w", err)
	}
	return wrappedKey, nil
}

// AuthorizeDownload checks that the requested name in the requested category
// is exactly the artifact derived from the caller's own record, and only
// then checks blob existence. Denial never depends on whether the blob is
// present, so non-owners learn nothing from the error kind.
func (g *Gateway) AuthorizeDownload(ownerID string, category blobfs.Category, rawName string) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidFilename, category)
	}

	safeName, err := SanitizeFilename(rawName)
	if err != nil {
		return "", err
	}

	baseName := safeName
	if category == blobfs.CategoryEncrypted {
		if trimmed, ok := strings.CutSuffix(safeName, EncryptedSuffix); ok && trimmed != "" {
			baseName = trimmed
		}
	}

	rec, err := g.records.GetRecord(ownerID, baseName)
	if err != nil {
		return "", err
	}

	expected := rec.FileName
	if category == blobfs.CategoryEncrypted {
		expected = rec.FileName + EncryptedSuffix
	}
	if expected != safeName {
		return "", fmt.Errorf("%w: %s", ErrAccessDenied, safeName)
	}

	if !g.blobs.Exists(category, safeName) {
		return "", fmt.Errorf("%w: %s", ErrBlobNotFound, safeName)
	}
	return g.blobs.Path(category, safeName), nil
}

// ListFiles returns the owner's records sorted by file name.
func (g *Gateway) ListFiles(ownerID string) ([]models.FileRecord, error) {
	return g.records.ListRecords(ownerID)
}
