// Package auth provides the credential directory consulted when a
// connection sends an auth message.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedEntry is returned by Load for a line that is not "user:hash".
var ErrMalformedEntry = errors.New("malformed credential entry")

// Directory maps usernames to bcrypt password hashes.
type Directory struct {
	mu     sync.RWMutex
	hashes map[string][]byte
}

// NewDirectory hashes the given plain-text passwords.
func NewDirectory(users map[string]string) (*Directory, error) {
	d := &Directory{hashes: make(map[string][]byte, len(users))}
	for name, password := range users {
		if err := d.Set(name, password); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Default returns the directory with the two built-in demo accounts.
func Default() *Directory {
	d, err := NewDirectory(map[string]string{
		"Dr.Waldmann":     "krankenhaus",
		"Herr.Krankwurst": "immerso",
	})
	if err != nil {
		// bcrypt only fails here for passwords over 72 bytes.
		panic(err)
	}
	return d
}

// Load reads "username:bcrypt-hash" lines. Blank lines and lines starting
// with '#' are skipped.
func Load(r io.Reader) (*Directory, error) {
	d := &Directory{hashes: make(map[string][]byte)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, hash, ok := strings.Cut(line, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedEntry, lineNo)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedEntry, lineNo, err)
		}
		d.hashes[name] = []byte(hash)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return d, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Set stores a bcrypt hash of password for name, replacing any existing entry.
func (d *Directory) Set(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password for %s: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes[name] = hash
	return nil
}

// Verify implements relay.Authenticator.
func (d *Directory) Verify(username, password string) bool {
	d.mu.RLock()
	hash, ok := d.hashes[username]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hashes)
}
