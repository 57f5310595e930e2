package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// RSAKeySize is fixed: wrapped keys on disk were produced by 2048-bit
	// RSA-OAEP and must remain recoverable.
	RSAKeySize = 2048

	PublicKeyFile  = "public.pem"
	PrivateKeyFile = "private.pem"
)

var (
	// ErrKeyRecoveryImpossible means a public key exists with no private
	// counterpart. Minting a fresh pair would silently orphan every
	// previously wrapped key, so the custodian refuses to operate.
	ErrKeyRecoveryImpossible = errors.New("public key exists without private key, cannot recover")
)

// Custodian owns the server RSA keypair on disk. There is one pair for the
// whole process, not one per user.
type Custodian struct {
	mu             sync.Mutex
	PublicKeyPath  string
	PrivateKeyPath string
}

// NewCustodian returns a custodian storing its pair under dir.
func NewCustodian(dir string) *Custodian {
	return &Custodian{
		PublicKeyPath:  filepath.Join(dir, PublicKeyFile),
		PrivateKeyPath: filepath.Join(dir, PrivateKeyFile),
	}
}

// EnsureKeys guarantees that after it returns without error both keys exist
// and match. It is idempotent and safe to call before every cryptographic
// operation:
//
//   - both present: no-op
//   - private only: re-derive and persist the public key (repair, not error)
//   - public only: fail with ErrKeyRecoveryImpossible
//   - neither: generate and persist a fresh pair
func (c *Custodian) EnsureKeys() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	privExists := fileExists(c.PrivateKeyPath)
	pubExists := fileExists(c.PublicKeyPath)

	switch {
	case privExists && pubExists:
		return nil
	case privExists:
		return c.derivePublic()
	case pubExists:
		return fmt.Errorf("%w: %s", ErrKeyRecoveryImpossible, c.PrivateKeyPath)
	}

	priv, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.PrivateKeyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	// Exclusive create so two concurrent first calls never produce two
	// different keypairs: the fully written candidate is linked into place
	// only if no private key exists yet, and the loser of that race
	// re-reads the winner's key instead of overwriting it.
	tmp, err := os.CreateTemp(filepath.Dir(c.PrivateKeyPath), ".private-*.pem")
	if err != nil {
		return fmt.Errorf("failed to create private key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if _, err := tmp.Write(privPEM); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.Link(tmp.Name(), c.PrivateKeyPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return c.derivePublic()
		}
		return fmt.Errorf("failed to create private key file: %w", err)
	}

	return c.writePublic(&priv.PublicKey)
}

// derivePublic loads the private key and persists its public counterpart.
func (c *Custodian) derivePublic() error {
	if fileExists(c.PublicKeyPath) {
		return nil
	}
	priv, err := c.PrivateKey()
	if err != nil {
		return err
	}
	return c.writePublic(&priv.PublicKey)
}

func (c *Custodian) writePublic(pub *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if err := os.MkdirAll(filepath.Dir(c.PublicKeyPath), 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := os.WriteFile(c.PublicKeyPath, pemBytes, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// PublicKey loads the persisted public key.
func (c *Custodian) PublicKey() (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(c.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("public key file is not PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return pub, nil
}

// PrivateKey loads the persisted private key.
func (c *Custodian) PrivateKey() (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("private key file is not PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return priv, nil
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return priv, nil
}

// PublicKeyPEM returns the raw PEM text of the public key, as stored on
// user profiles.
func (c *Custodian) PublicKeyPEM() (string, error) {
	raw, err := os.ReadFile(c.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read public key: %w", err)
	}
	return string(raw), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
