package audit

import (
	"context"
	"errors"
	"time"
)

const (
	ActionAdd    = "ADD"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

var AllActionTypes = []string{
	ActionAdd,
	ActionUpdate,
	ActionDelete,
}

// ErrWrite is wrapped by every failure to append a record.
var ErrWrite = errors.New("audit: write failed")

// Field is one key/value pair of an event. Events keep fields in the order
// the caller supplies them.
type Field struct {
	Key   string
	Value any
}

type Event struct {
	Timestamp time.Time
	Action    string
	Fields    []Field
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type discard struct{}

func (discard) Record(context.Context, Event) error { return nil }

// Discard drops every event.
var Discard Recorder = discard{}
