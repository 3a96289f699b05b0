// Package events publishes portal audit events: buckets newly found to be requester pays and
// notebook launches.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types.
const (
	TypeRequesterPaysFlagged = "requester_pays.flagged"
	TypeNotebookLaunch       = "notebook.launch"
)

// Publisher delivers one event payload.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// Counter records flagged buckets in metrics.
type Counter interface {
	RequesterPaysFlagged()
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// RequesterPaysFlagged is the payload of TypeRequesterPaysFlagged.
type RequesterPaysFlagged struct {
	Bucket    string    `json:"bucket"`
	FlaggedAt time.Time `json:"flaggedAt"`
}

// NotebookLaunch is the payload of TypeNotebookLaunch.
type NotebookLaunch struct {
	Namespace string    `json:"namespace"`
	Workspace string    `json:"workspace"`
	Notebook  string    `json:"notebook"`
	Cluster   string    `json:"cluster"`
	Mode      string    `json:"mode"`
	LaunchAt  time.Time `json:"launchedAt"`
}

// Emitter turns portal callbacks into published events. Publish failures are logged, never
// returned: an audit event must not fail the call that triggered it.
type Emitter struct {
	publisher Publisher
	counter   Counter
	clock     Clock
	logger    *zap.Logger
}

// NewEmitter wires an Emitter. counter may be nil.
func NewEmitter(publisher Publisher, counter Counter, clock Clock, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{publisher: publisher, counter: counter, clock: clock, logger: logger.Named("events")}
}

// RequesterPaysFlagged implements ajax.RequesterPaysListener.
func (e *Emitter) RequesterPaysFlagged(ctx context.Context, bucket string) {
	if e.counter != nil {
		e.counter.RequesterPaysFlagged()
	}
	e.logger.Info("bucket flagged as requester pays", zap.String("bucket", bucket))
	e.publish(ctx, TypeRequesterPaysFlagged, RequesterPaysFlagged{Bucket: bucket, FlaggedAt: e.now()})
}

// NotebookLaunched records a notebook opened in the editor.
func (e *Emitter) NotebookLaunched(ctx context.Context, ev NotebookLaunch) {
	if ev.LaunchAt.IsZero() {
		ev.LaunchAt = e.now()
	}
	e.publish(ctx, TypeNotebookLaunch, ev)
}

func (e *Emitter) publish(ctx context.Context, eventType string, payload any) {
	if e.publisher == nil {
		return
	}
	id, err := e.publisher.Publish(ctx, eventType, payload)
	if err != nil {
		e.logger.Warn("publish event failed", zap.String("type", eventType), zap.Error(err))
		return
	}
	e.logger.Debug("event published", zap.String("type", eventType), zap.String("id", id))
}

func (e *Emitter) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}
