/*
Copyright © 2026 EmJeeTee
*/

package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const sessionFile = "session.json"

// Session is the participant identity persisted across runs. All three fields
// being present means the session is resumable; fields are individually
// removable.
type Session struct {
	PlayerID   string `json:"playerId,omitempty"`
	RoomCode   string `json:"roomCode,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
}

func (s Session) Resumable() bool {
	return s.PlayerID != "" && s.RoomCode != "" && s.PlayerName != ""
}

// SessionStore reads and writes the session file under the data directory.
// It is the sole source of truth for "am I already a participant of this
// room". Writes happen only after a successful server acknowledgement, never
// optimistically.
type SessionStore struct {
	dir string
}

func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

func (st *SessionStore) path() string {
	return filepath.Join(st.dir, sessionFile)
}

// Load returns the persisted session, or a zero session if none exists.
func (st *SessionStore) Load() (Session, error) {
	data, err := os.ReadFile(st.path())
	if errors.Is(err, fs.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (st *SessionStore) Save(s Session) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write never leaves a torn session.
	tmp := st.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, st.path())
}

// Clear removes the persisted session entirely.
func (st *SessionStore) Clear() error {
	err := os.Remove(st.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ClearField removes a single field, keeping the rest.
func (st *SessionStore) ClearField(field string) error {
	s, err := st.Load()
	if err != nil {
		return err
	}

	switch field {
	case "playerId":
		s.PlayerID = ""
	case "roomCode":
		s.RoomCode = ""
	case "playerName":
		s.PlayerName = ""
	}

	if (s == Session{}) {
		return st.Clear()
	}
	return st.Save(s)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "blof")
	}
	return ".blof"
}
