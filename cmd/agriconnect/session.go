package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/akshithakatte/AgriConnect/internal/authflow"
)

// errNotLoggedIn is returned when no session file exists.
var errNotLoggedIn = errors.New("not logged in; run agriconnect login")

// storedSession is the session file layout.
type storedSession struct {
	APIURL  string            `json:"api_url"`
	Session *authflow.Session `json:"session"`
}

func saveSession(path string, s *storedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadSession(path string) (*storedSession, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, err
	}
	var s storedSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("session file %s: %w", path, err)
	}
	if s.Session == nil || s.Session.AccessToken == "" {
		return nil, errNotLoggedIn
	}
	return &s, nil
}

func removeSession(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
