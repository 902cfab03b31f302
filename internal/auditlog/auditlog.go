// Package auditlog keeps a bounded, append-only history of authentication
// attempts in a JSON file. The monitoring surface reads it to judge token
// age and recent failure rate.
package auditlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Method identifies how an authentication attempt was made.
type Method string

const (
	// MethodTokenValidation is a probe of the stored session against the service.
	MethodTokenValidation Method = "token_validation"
	// MethodTokenResume is a login resumed from a stored session bundle.
	MethodTokenResume Method = "token_resume"
	// MethodFreshLogin is a credential login, possibly with an MFA exchange.
	MethodFreshLogin Method = "fresh_login"
)

// maxEntries caps the log; the oldest entries are evicted first.
const maxEntries = 50

// Entry records the outcome of one authentication attempt.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Method    Method    `json:"method"`
	Error     string    `json:"error,omitempty"`
}

// Summary condenses the log for the status surface.
type Summary struct {
	// LastSuccess is the timestamp of the most recent successful
	// fresh_login or token_validation entry; zero when none exists.
	LastSuccess time.Time
	// RecentFailures counts failed entries within the last 24 hours.
	RecentFailures int
}

// LastSuccessAgeDays returns the age of the last success in whole days
// relative to now, and whether a success exists at all.
func (s Summary) LastSuccessAgeDays(now time.Time) (int, bool) {
	if s.LastSuccess.IsZero() {
		return 0, false
	}
	return int(now.Sub(s.LastSuccess).Hours() / 24), true
}

// Log is a file-backed attempt history. It is not safe for concurrent
// appends from multiple processes; the single-cycle flow guarantees one
// writer.
type Log struct {
	path string
}

// New creates a log backed by the file at path.
func New(path string) *Log {
	return &Log{path: path}
}

// Append records an attempt, truncating the history to the newest 50
// entries. Failures are logged and swallowed: audit writes must never
// block or fail authentication.
func (l *Log) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	entries, err := l.load()
	if err != nil {
		slog.Warn("failed to read audit log, starting fresh", "path", l.path, "error", err)
		entries = nil
	}

	entries = append(entries, e)
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	if err := l.write(entries); err != nil {
		slog.Warn("failed to write audit log", "path", l.path, "error", err)
	}
}

// Summarize scans the history for the latest success and counts failures
// in the last 24 hours.
func (l *Log) Summarize(now time.Time) (Summary, error) {
	entries, err := l.load()
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if sum.LastSuccess.IsZero() && e.Success &&
			(e.Method == MethodFreshLogin || e.Method == MethodTokenValidation) {
			sum.LastSuccess = e.Timestamp
		}
		if !e.Success && now.Sub(e.Timestamp) < 24*time.Hour {
			sum.RecentFailures++
		}
	}
	return sum, nil
}

// Entries returns the full ordered history, oldest first.
func (l *Log) Entries() ([]Entry, error) {
	return l.load()
}

func (l *Log) load() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse audit log: %w", err)
	}
	return entries, nil
}

// write rewrites the log atomically: temp file in the same directory,
// then rename.
func (l *Log) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp audit file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize audit log: %w", err)
	}
	return nil
}
