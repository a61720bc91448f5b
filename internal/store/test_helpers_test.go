package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession returns a session with the required fields filled.
func createTestSession(token string, subject int) *Session {
	return &Session{
		Token:        token,
		Subject:      subject,
		Experiment:   "IP",
		CodeVersion:  "v1.1",
		ProtocolHash: "protocol-hash",
		TimelineHash: "timeline-hash",
		Trials:       240,
	}
}
