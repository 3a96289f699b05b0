// Package errorreport is the generic failure path for portal actions: failures are logged and
// handed to a Notifier for display, abandoned calls are dropped silently.
package errorreport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/workspace-portal/internal/ajax"
)

// Notification is one reported failure.
type Notification struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Status is the HTTP status of a failed backend response, zero otherwise.
	Status int `json:"status,omitempty"`
}

// Notifier displays a Notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// Counter records reported failures in metrics.
type Counter interface {
	ErrorReported(title string)
}

// Reporter reports failures. The zero value is not usable; call New.
type Reporter struct {
	notifier Notifier
	counter  Counter
	logger   *zap.Logger
}

// New wires a Reporter. notifier and counter may be nil.
func New(notifier Notifier, counter Counter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{notifier: notifier, counter: counter, logger: logger.Named("errors")}
}

// Report logs err under title and notifies. Abandoned calls and nil errors are ignored.
func (r *Reporter) Report(ctx context.Context, title string, err error) {
	if err == nil || ajax.IsAbandoned(err) {
		return
	}
	n := Notification{Title: title, Detail: err.Error(), Status: ajax.StatusOf(err)}
	var rerr *ajax.ResponseError
	if errors.As(err, &rerr) && rerr.Response.Text() != "" {
		n.Detail = rerr.Response.Text()
	}
	r.logger.Error(title, zap.Error(err), zap.Int("status", n.Status))
	if r.counter != nil {
		r.counter.ErrorReported(title)
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, n)
	}
}

// WithErrorReporting runs fn and reports its failure under title. The error is still
// returned so callers can stop; ajax.ErrAbandoned comes back unreported.
func (r *Reporter) WithErrorReporting(ctx context.Context, title string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	r.Report(ctx, title, err)
	return err
}

// WriterNotifier prints notifications as "title: detail" lines.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier returns a Notifier writing to w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "%s: %s\n", note.Title, note.Detail)
}
