package custody

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sealight/filecustody/internal/blobfs"
	"github.com/sealight/filecustody/internal/db"
	"github.com/sealight/filecustody/internal/keys"
	"github.com/sealight/filecustody/internal/models"
)

func newTestGateway(t *testing.T) (*Gateway, *blobfs.Store, *db.DB) {
	t.Helper()
	dir := t.TempDir()

	store, err := db.New(filepath.Join(dir, "custody.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blobfs.New(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	custodian := keys.NewCustodian(filepath.Join(dir, "keys"))
	return NewGateway(store, blobs, custodian), blobs, store
}

func mustUpload(t *testing.T, g *Gateway, owner, name string, content []byte) *models.FileRecord {
	t.Helper()
	rec, err := g.RegisterUpload(owner, name, bytes.NewReader(content), nil)
	if err != nil {
		t.Fatalf("RegisterUpload(%q, %q) failed: %v", owner, name, err)
	}
	return rec
}

func TestRegisterUpload(t *testing.T) {
	g, blobs, _ := newTestGateway(t)

	content := []byte("quarterly numbers")
	rec := mustUpload(t, g, "alice", "report (draft).pdf", content)

	if rec.FileName != "report__draft_.pdf" {
		t.Errorf("unexpected sanitized name: %q", rec.FileName)
	}
	if rec.SizeBytes != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), rec.SizeBytes)
	}
	if rec.Status != models.StatusUploaded {
		t.Errorf("expected status uploaded, got %q", rec.Status)
	}

	stored, err := blobs.Read(blobfs.CategoryUploads, rec.FileName)
	if err != nil {
		t.Fatalf("uploaded blob missing: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Error("stored blob differs from uploaded content")
	}
}

func TestRegisterUploadCollision(t *testing.T) {
	g, _, _ := newTestGateway(t)

	mustUpload(t, g, "alice", "report.pdf", []byte("first"))

	// First writer wins, regardless of owner.
	_, err := g.RegisterUpload("bob", "report.pdf", bytes.NewReader([]byte("second")), nil)
	if !errors.Is(err, ErrNameCollision) {
		t.Errorf("expected ErrNameCollision, got %v", err)
	}

	// A raw name that sanitizes to the taken name collides too.
	_, err = g.RegisterUpload("bob", "uploads/report.pdf", bytes.NewReader([]byte("second")), nil)
	if !errors.Is(err, ErrNameCollision) {
		t.Errorf("expected ErrNameCollision for sanitized alias, got %v", err)
	}
}

func TestRegisterUploadConcurrentRace(t *testing.T) {
	g, _, _ := newTestGateway(t)

	const racers = 2
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.RegisterUpload("alice", "contested.bin", strings.NewReader("payload"), nil)
		}(i)
	}
	wg.Wait()

	var successes, collisions int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrNameCollision):
			collisions++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || collisions != 1 {
		t.Errorf("expected exactly one winner, got %d successes and %d collisions", successes, collisions)
	}
}

func TestEncryptDecryptFlow(t *testing.T) {
	g, blobs, store := newTestGateway(t)

	content := []byte("the plaintext body of the file")
	mustUpload(t, g, "alice", "secret.txt", content)

	result, err := g.Encrypt("alice", "secret.txt")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if result.EncryptedName != "secret.txt.enc" || result.KeyName != "secret.txt.key" {
		t.Errorf("unexpected artifact names: %+v", result)
	}
	if !blobs.Exists(blobfs.CategoryEncrypted, result.EncryptedName) {
		t.Error("encrypted blob not written")
	}
	if !blobs.Exists(blobfs.CategoryEncrypted, result.KeyName) {
		t.Error("wrapped key blob not written")
	}

	rec, err := store.GetRecord("alice", "secret.txt")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Status != models.StatusEncrypted {
		t.Errorf("expected status encrypted, got %q", rec.Status)
	}
	if rec.WrappedKey == "" {
		t.Error("wrapped key not persisted on record")
	}

	outputName, err := g.Decrypt("alice", "secret.txt")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if outputName != "secret.txt" {
		t.Errorf("unexpected output name: %q", outputName)
	}

	plaintext, err := blobs.Read(blobfs.CategoryDecrypted, outputName)
	if err != nil {
		t.Fatalf("decrypted blob missing: %v", err)
	}
	if !bytes.Equal(plaintext, content) {
		t.Error("decrypted content differs from original")
	}

	rec, err = store.GetRecord("alice", "secret.txt")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Status != models.StatusDecrypted {
		t.Errorf("expected status decrypted, got %q", rec.Status)
	}
	if rec.LastDecryptedAt == nil {
		t.Error("last_decrypted_at not set")
	}
}

func TestEncryptRequiresRecord(t *testing.T) {
	g, _, _ := newTestGateway(t)

	_, err := g.Encrypt("alice", "nonexistent.txt")
	if !errors.Is(err, db.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestEncryptRequiresSourceBlob(t *testing.T) {
	g, blobs, _ := newTestGateway(t)

	mustUpload(t, g, "alice", "gone.txt", []byte("x"))
	if err := os.Remove(blobs.Path(blobfs.CategoryUploads, "gone.txt")); err != nil {
		t.Fatalf("failed to remove blob: %v", err)
	}

	_, err := g.Encrypt("alice", "gone.txt")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestReEncryptSupersedesWrappedKey(t *testing.T) {
	g, _, store := newTestGateway(t)

	mustUpload(t, g, "alice", "twice.txt", []byte("encrypt me twice"))

	if _, err := g.Encrypt("alice", "twice.txt"); err != nil {
		t.Fatalf("first Encrypt failed: %v", err)
	}
	first, err := store.GetRecord("alice", "twice.txt")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if _, err := g.Encrypt("alice", "twice.txt"); err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}
	second, err := store.GetRecord("alice", "twice.txt")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}

	if first.WrappedKey == second.WrappedKey {
		t.Error("re-encryption did not mint a fresh wrapped key")
	}

	// The superseded key must not break decryption.
	if _, err := g.Decrypt("alice", "twice.txt"); err != nil {
		t.Fatalf("Decrypt after re-encrypt failed: %v", err)
	}
}

func TestDecryptFallsBackToRecordKey(t *testing.T) {
	g, blobs, _ := newTestGateway(t)

	content := []byte("resilient to key file loss")
	mustUpload(t, g, "alice", "backup.txt", content)
	if _, err := g.Encrypt("alice", "backup.txt"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Lose the filesystem copy of the wrapped key; the document store
	// remains the durable source of truth.
	if err := os.Remove(blobs.Path(blobfs.CategoryEncrypted, "backup.txt.key")); err != nil {
		t.Fatalf("failed to remove key file: %v", err)
	}

	if _, err := g.Decrypt("alice", "backup.txt"); err != nil {
		t.Fatalf("Decrypt via record fallback failed: %v", err)
	}

	plaintext, err := blobs.Read(blobfs.CategoryDecrypted, "backup.txt")
	if err != nil {
		t.Fatalf("decrypted blob missing: %v", err)
	}
	if !bytes.Equal(plaintext, content) {
		t.Error("fallback decrypt produced wrong content")
	}

	// A successful fallback repairs the filesystem copy.
	if !blobs.Exists(blobfs.CategoryEncrypted, "backup.txt.key") {
		t.Error("wrapped key file not restored after fallback")
	}
}

func TestDecryptWrappedKeyUnavailable(t *testing.T) {
	g, blobs, store := newTestGateway(t)

	mustUpload(t, g, "alice", "lost.txt", []byte("irrecoverable"))
	if _, err := g.Encrypt("alice", "lost.txt"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if err := os.Remove(blobs.Path(blobfs.CategoryEncrypted, "lost.txt.key")); err != nil {
		t.Fatalf("failed to remove key file: %v", err)
	}
	// Blank out the stored copy too.
	if err := store.SetWrappedKey("alice", "lost.txt", ""); err != nil {
		t.Fatalf("failed to clear wrapped key: %v", err)
	}

	_, err := g.Decrypt("alice", "lost.txt")
	if !errors.Is(err, ErrWrappedKeyUnavailable) {
		t.Errorf("expected ErrWrappedKeyUnavailable, got %v", err)
	}
}

func TestAuthorizeDownloadOwnershipIsolation(t *testing.T) {
	g, _, store := newTestGateway(t)

	mustUpload(t, g, "alice", "report.pdf", []byte("alice's data"))
	if _, err := g.Encrypt("alice", "report.pdf"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Bob has his own record whose name sanitizes identically, but the
	// artifact on disk belongs to Alice.
	if err := store.UpsertRecord(&models.FileRecord{
		OwnerID:  "bob",
		FileName: "other.pdf",
		Status:   models.StatusUploaded,
	}); err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}

	// Bob asking for Alice's encrypted artifact: his own records do not
	// derive that name, even though the blob exists on disk.
	_, err := g.AuthorizeDownload("bob", blobfs.CategoryEncrypted, "report.pdf.enc")
	if !errors.Is(err, db.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound for bob, got %v", err)
	}

	// The owner is authorized.
	path, err := g.AuthorizeDownload("alice", blobfs.CategoryEncrypted, "report.pdf.enc")
	if err != nil {
		t.Fatalf("owner download denied: %v", err)
	}
	if filepath.Base(path) != "report.pdf.enc" {
		t.Errorf("unexpected resolved path: %q", path)
	}
}

func TestAuthorizeDownloadNameMismatch(t *testing.T) {
	g, _, _ := newTestGateway(t)

	mustUpload(t, g, "alice", "mine.txt", []byte("x"))
	if _, err := g.Encrypt("alice", "mine.txt"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Requesting the sibling wrapped-key artifact through the download
	// path resolves to the owner's record but fails the byte-for-byte
	// expected-name comparison.
	_, err := g.AuthorizeDownload("alice", blobfs.CategoryEncrypted, "mine.txt.key")
	if err == nil {
		t.Fatal("expected key artifact download to be refused")
	}

	// Requesting the plain name under the encrypted category expects
	// mine.txt.enc and must be denied.
	_, err = g.AuthorizeDownload("alice", blobfs.CategoryUploads, "mine.txt.enc")
	if !errors.Is(err, ErrAccessDenied) && !errors.Is(err, db.ErrRecordNotFound) {
		t.Errorf("expected denial, got %v", err)
	}
}

func TestAuthorizeDownloadDeniedBeforeExistence(t *testing.T) {
	g, blobs, _ := newTestGateway(t)

	mustUpload(t, g, "alice", "present.txt", []byte("x"))

	// Record exists, expected name matches, blob removed: BlobNotFound.
	if err := os.Remove(blobs.Path(blobfs.CategoryUploads, "present.txt")); err != nil {
		t.Fatalf("failed to remove blob: %v", err)
	}
	_, err := g.AuthorizeDownload("alice", blobfs.CategoryUploads, "present.txt")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound for owner, got %v", err)
	}

	// A non-owner gets the same denial whether or not the blob exists;
	// existence is never consulted before authorization.
	_, err = g.AuthorizeDownload("mallory", blobfs.CategoryUploads, "present.txt")
	if !errors.Is(err, db.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound for non-owner, got %v", err)
	}
}

func TestListFilesSorted(t *testing.T) {
	g, _, _ := newTestGateway(t)

	mustUpload(t, g, "alice", "zebra.txt", []byte("z"))
	mustUpload(t, g, "alice", "Apple.txt", []byte("a"))
	mustUpload(t, g, "alice", "mango.txt", []byte("m"))
	mustUpload(t, g, "bob", "beta.txt", []byte("b"))

	records, err := g.ListFiles("alice")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	want := []string{"Apple.txt", "mango.txt", "zebra.txt"}
	for i, rec := range records {
		if rec.FileName != want[i] {
			t.Errorf("position %d: got %q, want %q", i, rec.FileName, want[i])
		}
		if rec.OwnerID != "alice" {
			t.Errorf("foreign record leaked into listing: %+v", rec)
		}
	}
}
