// Package account stores the local account's key material on disk, sealed
// with a passphrase.
package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atinyakov/keepsync/internal/crypto"
	"github.com/atinyakov/keepsync/internal/models"
)

// ErrNoAccount is returned by Load when the account file does not exist.
var ErrNoAccount = errors.New("account file not found")

// Load reads and unseals the account at path.
func Load(path, passphrase string) (*models.Account, error) {
	sealed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoAccount, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	plain, err := crypto.OpenWithPassphrase(passphrase, sealed)
	if err != nil {
		return nil, err
	}
	var acct models.Account
	if err := json.Unmarshal(plain, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acct.Username == "" || len(acct.PrivKey) == 0 || len(acct.SignKeyPrivate) == 0 {
		return nil, errors.New("account file is incomplete")
	}
	return &acct, nil
}

// Save seals acct with passphrase and writes it to path with mode 0600,
// replacing any existing file atomically.
func Save(path, passphrase string, acct *models.Account) error {
	if passphrase == "" {
		return errors.New("passphrase is required")
	}
	plain, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	sealed, err := crypto.SealWithPassphrase(passphrase, plain)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".account-*")
	if err != nil {
		return fmt.Errorf("create account file: %w", err)
	}
	defer os.Remove(f.Name())
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("chmod account file: %w", err)
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		return fmt.Errorf("write account file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write account file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("write account file: %w", err)
	}
	return nil
}
