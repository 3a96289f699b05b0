package ajax

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Stage names, in the order NewFetchOk applies them.
const (
	StageInstrumentation = "instrumentation"
	StageCancellation    = "cancellation"
	StageErrorRejection  = "error-rejection"
	StageURLPrefix       = "url-prefix"
	StageAppIdentifier   = "app-identifier"
	StageRequesterPays   = "requester-pays"
	StageObserve         = "observe"
	StageRequestID       = "request-id"
)

// DefaultAppID identifies the portal to backends that track callers.
const DefaultAppID = "Saturn"

// Instrumentation applies every override rule whose pattern matches the request URL, in
// registration order, each receiving the previous rule's result. Rules only see successful
// responses; a rule that produces a non-2xx response turns the call into a ResponseError
// and the matching rules registered after it are not run.
func Instrumentation(store *OverrideStore) Stage {
	return Stage{
		Name: StageInstrumentation,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				res, err := next.Do(ctx, req)
				if store == nil {
					return res, err
				}
				for _, rule := range store.Matching(req.URL) {
					if err != nil {
						return nil, err
					}
					res, err = rule.Transform(ctx, res)
					if err == nil && res != nil && !res.OK() {
						err = &ResponseError{Response: res}
						res = nil
					}
				}
				return res, err
			})
		},
	}
}

// Cancellation converts a context-cancelled failure into ErrAbandoned.
func Cancellation() Stage {
	return Stage{
		Name: StageCancellation,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				res, err := next.Do(ctx, req)
				if err != nil && errors.Is(err, context.Canceled) {
					return nil, ErrAbandoned
				}
				return res, err
			})
		},
	}
}

// ErrorRejection turns non-2xx responses into *ResponseError.
func ErrorRejection() Stage {
	return Stage{
		Name: StageErrorRejection,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				res, err := next.Do(ctx, req)
				if err != nil {
					return nil, err
				}
				if !res.OK() {
					return nil, &ResponseError{Response: res}
				}
				return res, nil
			})
		},
	}
}

// URLPrefix prepends prefix to the request path.
func URLPrefix(prefix string) Stage {
	return Stage{
		Name: StageURLPrefix,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				out := req.Clone()
				out.URL = prefix + req.URL
				return next.Do(ctx, out)
			})
		},
	}
}

// AppIdentifier sets the X-App-ID header.
func AppIdentifier(appID string) Stage {
	if appID == "" {
		appID = DefaultAppID
	}
	return Stage{
		Name: StageAppIdentifier,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				out := req.Clone()
				out.Header.Set("X-App-ID", appID)
				return next.Do(ctx, out)
			})
		},
	}
}

// Observer records call outcomes per backend service.
type Observer interface {
	ObserveCall(service, method, outcome string, status int, duration time.Duration)
}

// Call outcomes reported to an Observer.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeAbandoned = "abandoned"
	OutcomeError     = "error"
)

// Observe reports each call to obs under the given service label.
func Observe(service string, obs Observer) Stage {
	return Stage{
		Name: StageObserve,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				start := time.Now()
				res, err := next.Do(ctx, req)
				if obs == nil {
					return res, err
				}
				outcome, status := classify(res, err)
				obs.ObserveCall(service, req.Method, outcome, status, time.Since(start))
				return res, err
			})
		},
	}
}

func classify(res *Response, err error) (string, int) {
	switch {
	case err == nil:
		return OutcomeOK, res.StatusCode
	case IsAbandoned(err):
		return OutcomeAbandoned, 0
	case StatusOf(err) != 0:
		return OutcomeRejected, StatusOf(err)
	default:
		return OutcomeError, 0
	}
}

// IDGenerator produces request correlation IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RequestID tags each call with an X-Request-ID header and logs its outcome at debug level.
func RequestID(gen IDGenerator, logger *zap.Logger) Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Stage{
		Name: StageRequestID,
		Wrap: func(next Doer) Doer {
			return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
				out := req.Clone()
				if gen != nil && out.Header.Get("X-Request-ID") == "" {
					if id, err := gen.NewID(); err == nil {
						out.Header.Set("X-Request-ID", id)
					} else {
						logger.Warn("request id generation failed", zap.Error(err))
					}
				}
				res, err := next.Do(ctx, out)
				fields := []zap.Field{
					zap.String("request_id", out.Header.Get("X-Request-ID")),
					zap.String("method", out.Method),
					zap.String("url", out.URL),
				}
				switch {
				case err == nil:
					logger.Debug("ajax call completed", append(fields, zap.Int("status", res.StatusCode))...)
				case IsAbandoned(err):
					logger.Debug("ajax call abandoned", fields...)
				default:
					logger.Debug("ajax call failed", append(fields, zap.Error(err))...)
				}
				return res, err
			})
		},
	}
}
