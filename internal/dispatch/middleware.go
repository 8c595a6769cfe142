package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"tellbot/internal/transport"
	logx "tellbot/pkg/logx"
)

type Handler func(ctx context.Context, ev Event, sink transport.Sink) error

type Middleware func(next Handler) Handler

func Chain(h Handler, m ...Middleware) Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Timeout bounds each handler call. d <= 0 disables it.
func Timeout(d func() time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, sink transport.Sink) error {
			limit := d()
			if limit <= 0 {
				return next(ctx, ev, sink)
			}
			cctx, cancel := context.WithTimeout(ctx, limit)
			defer cancel()
			return next(cctx, ev, sink)
		}
	}
}

func Recover(log logx.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, sink transport.Sink) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.String("event", ev.Name),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, ev, sink)
		}
	}
}

// RequestLog logs each handled event. Commands log at info, activity at debug.
func RequestLog(log logx.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev Event, sink transport.Sink) error {
			start := time.Now()
			err := next(ctx, ev, sink)

			fields := []logx.Field{
				logx.String("rid", ev.ID),
				logx.String("event", ev.Name),
				logx.String("actor", ev.Actor),
				logx.Duration("dur", time.Since(start)),
			}
			if ev.Origin != nil {
				fields = append(fields, logx.Int64("chat_id", ev.Origin.ChatID))
			}
			switch {
			case err != nil:
				log.Warn("event failed", append(fields, logx.Err(err))...)
			case strings.HasPrefix(ev.Name, CommandPrefix):
				log.Info("event ok", fields...)
			default:
				log.Debug("event ok", fields...)
			}
			return err
		}
	}
}
