package audit

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// Log appends one line per event to a plain text file:
//
//	2026-03-01 14:05:09 | ADD | {'student_no': 'S1001', 'course_id': None}
//
// The file is never rotated or truncated.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	now    func() time.Time
	closed bool
}

type Option func(*Log)

// WithClock replaces the wall clock used to stamp events that carry no
// Timestamp of their own.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Open opens path for appending, creating the file when needed. The parent
// directory must already exist.
func Open(path string, opts ...Option) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open audit log: %w: empty path", ErrWrite)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w: %w", path, ErrWrite, err)
	}

	l := &Log{file: file, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record writes the event as a single line and syncs it to disk before
// returning. The action must be one of AllActionTypes.
func (l *Log) Record(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return fmt.Errorf("record audit event: %w: action is required", ErrWrite)
	}
	if !slices.Contains(AllActionTypes, event.Action) {
		return fmt.Errorf("record audit event: %w: unknown action %q", ErrWrite, event.Action)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("record audit event: %w: %w", ErrWrite, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("record audit event: %w: log is closed", ErrWrite)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	line := FormatLine(ts, event.Action, event.Fields)

	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("record audit event: %w: %w", ErrWrite, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("record audit event: sync: %w: %w", ErrWrite, err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

// FormatLine renders one audit record without the trailing newline.
func FormatLine(ts time.Time, action string, fields []Field) string {
	var b strings.Builder
	b.WriteString(ts.Format(timestampLayout))
	b.WriteString(" | ")
	b.WriteString(action)
	b.WriteString(" | {")
	for i, field := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(field.Key))
		b.WriteString(": ")
		b.WriteString(formatValue(field.Value))
	}
	b.WriteString("}")
	return b.String()
}

var quoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func quote(s string) string {
	return "'" + quoteEscaper.Replace(s) + "'"
}

func formatValue(value any) string {
	if value == nil {
		return "None"
	}

	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "None"
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.String:
		return quote(v.String())
	case reflect.Bool:
		if v.Bool() {
			return "True"
		}
		return "False"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	default:
		return quote(fmt.Sprint(v.Interface()))
	}
}
