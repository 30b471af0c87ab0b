package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes evaluated at log time, such as the
// session state and user.
type ContextProvider func() []slog.Attr

// SessionSource reports the session a record was logged under.
type SessionSource interface {
	StateName() string
	UserName() string
}

// SessionContext adds session and user attributes. The user is omitted while
// nobody is logged in. A nil source adds nothing.
func SessionContext(src func() SessionSource) ContextProvider {
	return func() []slog.Attr {
		s := src()
		if s == nil {
			return nil
		}
		attrs := []slog.Attr{slog.String("session", s.StateName())}
		if u := s.UserName(); u != "" {
			attrs = append(attrs, slog.String("user", u))
		}
		return attrs
	}
}

// ContextHandler injects provider attributes into every record it handles.
type ContextHandler struct {
	next     slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps next.
func NewContextHandler(next slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{next: next, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		if attrs := h.provider(); len(attrs) > 0 {
			r = r.Clone()
			r.AddAttrs(attrs...)
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{next: h.next.WithGroup(name), provider: h.provider}
}
