package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

var (
	// ErrNilKey is returned when a keystore operation receives no key.
	ErrNilKey = errors.New("crypto: nil private key")
	// ErrKeystorePath is returned when the keystore path is blank.
	ErrKeystorePath = errors.New("crypto: keystore path must be set")
)

// SaveToKeystore encrypts the account key with the passphrase and writes a
// scrypt v3 keystore file at path, returning the key's vault address. The
// parent directory is created when missing and the file lands with 0600
// permissions.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) (Address, error) {
	if key == nil {
		return Address{}, ErrNilKey
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Address{}, ErrKeystorePath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Address{}, fmt.Errorf("crypto: create keystore dir: %w", err)
	}

	// The upstream keystore only writes into a directory it manages, so
	// stage the encrypted file there and move it onto the requested path.
	staging, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return Address{}, fmt.Errorf("crypto: stage keystore: %w", err)
	}
	defer os.RemoveAll(staging)

	ks := keystore.NewKeyStore(staging, keystore.StandardScryptN, keystore.StandardScryptP)
	acct, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: encrypt key: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Address{}, err
	}
	if err := os.Rename(acct.URL.Path, path); err != nil {
		return Address{}, fmt.Errorf("crypto: place keystore: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return Address{}, err
	}
	return key.PubKey().Address(), nil
}

// LoadFromKeystore decrypts the keystore file with the passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrKeystorePath
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keystore: %w", err)
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
