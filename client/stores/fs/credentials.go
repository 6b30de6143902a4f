// Package fs keeps userauth client sessions in a single JSON file.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panyam/userauth/client"
)

const fileVersion = 1

// Store holds one session per userauth server, keyed by the server's base URL.
// Expired sessions are dropped as they are read.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions map[string]*client.ServerCredential
	dirty    bool
}

type sessionFile struct {
	Version  int                                  `json:"version"`
	Sessions map[string]*client.ServerCredential `json:"sessions"`
}

// Login describes a stored session without its token
type Login struct {
	Server    string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// DefaultPath returns <user config dir>/<appName>/sessions.json
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "userauth"
	}
	return filepath.Join(dir, appName, "sessions.json"), nil
}

// Open loads the session file at path, or at DefaultPath("userauth") when path is empty.
// A missing file is an empty store.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath("")
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &Store{path: path, sessions: map[string]*client.ServerCredential{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read sessions: %w", err)
	}

	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if f.Version > fileVersion {
		return fmt.Errorf("%s has version %d, this client reads up to %d", s.path, f.Version, fileVersion)
	}
	for server, cred := range f.Sessions {
		if cred == nil || cred.Token == "" || cred.IsExpired() {
			s.dirty = true
			continue
		}
		s.sessions[server] = cred
	}
	return nil
}

// serverKey reduces a server URL to scheme://host[:port]/prefix.
// The path is kept so two deployments mounted under one host stay apart.
func serverKey(serverURL string) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: no host", serverURL)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "https" && port == "443") && !(scheme == "http" && port == "80") {
		host += ":" + port
	}
	return scheme + "://" + host + strings.TrimRight(u.Path, "/"), nil
}

// GetCredential returns the live session for serverURL, or nil if there is none
func (s *Store) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	if cred.IsExpired() {
		delete(s.sessions, key)
		s.dirty = true
		return nil, nil
	}
	c := *cred
	return &c, nil
}

// SetCredential replaces the session for serverURL
func (s *Store) SetCredential(serverURL string, cred *client.ServerCredential) error {
	if cred == nil || cred.Token == "" {
		return errors.New("credential has no token")
	}
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	c := *cred
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = &c
	s.dirty = true
	return nil
}

// RemoveCredential forgets the session for serverURL
func (s *Store) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[key]; ok {
		delete(s.sessions, key)
		s.dirty = true
	}
	return nil
}

// ListServers returns the keys of all stored sessions, sorted
func (s *Store) ListServers() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.sessions)), nil
}

// Logins lists who is signed in where, skipping expired sessions
func (s *Store) Logins() []Login {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Login
	for _, server := range slices.Sorted(maps.Keys(s.sessions)) {
		cred := s.sessions[server]
		if cred.IsExpired() {
			continue
		}
		out = append(out, Login{Server: server, UserID: cred.UserID, Username: cred.Username, ExpiresAt: cred.ExpiresAt})
	}
	return out
}

// Save writes pending changes. The file is replaced by rename so a crash
// mid-write leaves the previous contents intact.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(sessionFile{Version: fileVersion, Sessions: s.sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*")
	if err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	s.dirty = false
	return nil
}

// Path returns the session file location
func (s *Store) Path() string {
	return s.path
}

var _ client.CredentialStore = (*Store)(nil)
