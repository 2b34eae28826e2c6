// Copyright 2026 © The miniagent Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore writes one JSON Lines file per session under a base directory.
// Appends only ever add a line.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (f *FileStore) sessionFile(sessionID string) string {
	// filepath.Base keeps ids from escaping the directory.
	return filepath.Join(f.baseDir, filepath.Base(sessionID)+".jsonl")
}

// Append implements Store.
func (f *FileStore) Append(_ context.Context, sessionID string, msg Message) error {
	msg = prepare(sessionID, msg)
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.sessionFile(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("failed to append message: %w", err)
	}
	return file.Close()
}

// Messages implements Store.
func (f *FileStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var messages []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse history file: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })
	return messages, nil
}

// Sessions implements Store.
func (f *FileStore) Sessions(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), ".jsonl"); ok {
			sessions = append(sessions, name)
		}
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Delete implements Store.
func (f *FileStore) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.sessionFile(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close implements Store.
func (f *FileStore) Close() error { return nil }

// prepare fills the identity fields a caller may leave empty.
func prepare(sessionID string, msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}
