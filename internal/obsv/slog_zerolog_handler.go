package obsv

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// zlHandler implements slog.Handler over a zerolog.Logger so the rest of the
// codebase can use log/slog for component logging while every event is
// written by zerolog.
type zlHandler struct {
	zl    *zerolog.Logger
	attrs []slog.Attr
	group string
}

// NewSlog returns a *slog.Logger backed by zl.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&zlHandler{zl: zl})
}

func (h *zlHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *zlHandler) Handle(ctx context.Context, rec slog.Record) error {
	l := FromContext(ctx, h.zl)

	var ev *zerolog.Event
	switch {
	case rec.Level >= slog.LevelError:
		ev = l.Error()
	case rec.Level >= slog.LevelWarn:
		ev = l.Warn()
	case rec.Level >= slog.LevelInfo:
		ev = l.Info()
	default:
		ev = l.Debug()
	}

	for _, a := range h.attrs {
		ev = addAttr(ev, h.group, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = addAttr(ev, h.group, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (h *zlHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &zlHandler{zl: h.zl, group: h.group}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *zlHandler) WithGroup(name string) slog.Handler {
	next := &zlHandler{zl: h.zl, attrs: h.attrs}
	if h.group != "" {
		next.group = h.group + "." + name
	} else {
		next.group = name
	}
	return next
}

func addAttr(ev *zerolog.Event, group string, a slog.Attr) *zerolog.Event {
	if a.Equal(slog.Attr{}) {
		return ev
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return ev.AnErr(key, err)
		}
		return ev.Interface(key, v.Any())
	default:
		return ev.Str(key, v.String())
	}
}
