package imap

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wesm/mailtracker/internal/fileutil"
)

// storedLogin is the on-disk form of a saved password. The identifier is
// kept alongside so a file copied between accounts is rejected.
type storedLogin struct {
	Identifier string `toml:"identifier"`
	Password   string `toml:"password"`
}

func loginFile(dir, identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return filepath.Join(dir, "imap-"+hex.EncodeToString(sum[:8])+".toml")
}

// SaveCredentials writes the password for identifier into dir with mode
// 0600.
func SaveCredentials(dir, identifier, password string) error {
	if err := fileutil.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(storedLogin{Identifier: identifier, Password: password}); err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := fileutil.WriteFileAtomic(loginFile(dir, identifier), []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// LoadCredentials returns the password saved for identifier.
func LoadCredentials(dir, identifier string) (string, error) {
	var login storedLogin
	_, err := toml.DecodeFile(loginFile(dir, identifier), &login)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("no password saved for %s; run 'mailtracker add-imap'", identifier)
	case err != nil:
		return "", fmt.Errorf("read credentials: %w", err)
	case login.Identifier != identifier:
		return "", fmt.Errorf("credentials file for %s names %q", identifier, login.Identifier)
	}
	return login.Password, nil
}
