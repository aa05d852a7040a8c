package keys

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

func AuthorizedKeysPath(rootDir string) string {
	return filepath.Join(rootDir, ".ssh", "authorized_keys")
}

// WriteAuthorizedKeys writes one encoded public key per line, in the
// order given, to <rootDir>/.ssh/authorized_keys, replacing any prior
// content. The .ssh directory is created if missing.
func WriteAuthorizedKeys(rootDir string, pubs ...ssh.PublicKey) error {
	path := AuthorizedKeysPath(rootDir)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	var buf bytes.Buffer
	for _, pub := range pubs {
		buf.WriteString(MarshalAuthorized(pub))
		buf.WriteByte('\n')
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// ReadAuthorizedKeys parses <rootDir>/.ssh/authorized_keys back into
// public keys, preserving file order. A missing file reports
// fs.ErrNotExist; a malformed line is an error.
func ReadAuthorizedKeys(rootDir string) ([]ssh.PublicKey, error) {
	content, err := os.ReadFile(AuthorizedKeysPath(rootDir))
	if err != nil {
		return nil, err
	}

	var pubs []ssh.PublicKey
	for n, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("authorized_keys line %d: %w", n+1, err)
		}
		pubs = append(pubs, pub)
	}

	return pubs, nil
}
