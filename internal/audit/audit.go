// Package audit writes the daily mutating-RPC audit log (spec §6): one
// line per mutating RPC, in a file named after the current date, with
// fields "HH:MM:SS.mmm|user|operation|key=val;key2=val2".
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger appends lines to the audit directory's daily file, rolling
// over automatically at midnight.
type Logger struct {
	mu          sync.Mutex
	dir         string
	currentDate string
	file        *os.File
}

// NewLogger opens (creating if needed) the audit directory.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Logger{dir: dir}, nil
}

func (l *Logger) fileFor(now time.Time) (*os.File, error) {
	date := now.Format("20060102")
	if l.file != nil && l.currentDate == date {
		return l.file, nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	f, err := os.OpenFile(filepath.Join(l.dir, date), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.file = f
	l.currentDate = date
	return f, nil
}

// Record writes one audit line for a mutating RPC. fields are rendered
// in sorted key order so repeated calls with the same map produce
// identical output (useful for tests).
func (l *Logger) Record(user, operation string, fields map[string]string) error {
	now := time.Now()
	line := fmt.Sprintf("%s|%s|%s|%s\n", now.Format("15:04:05.000"), user, operation, formatFields(fields))

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.fileFor(now)
	if err != nil {
		return err
	}
	_, err = f.WriteString(line)
	return err
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, ";")
}

// Close flushes and closes the currently open daily file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
