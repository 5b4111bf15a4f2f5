package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type middleware func(next HandlerFunc) HandlerFunc

// wrap applies mws so that the first one listed runs outermost.
func wrap(h HandlerFunc, mws ...middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// slowRequest is the duration above which a successful request is logged
// at info instead of debug.
const slowRequest = 750 * time.Millisecond

// recovered turns a handler panic into an error carrying the panic value.
func recovered(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if p := recover(); p != nil {
				req.Logger.Error("handler panic", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return next(ctx, req)
	}
}

func logged(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)
		switch {
		case err != nil:
			req.Logger.Warn("request failed", logx.Duration("dur", took), logx.Err(err))
		case took >= slowRequest:
			req.Logger.Info("slow request", logx.Duration("dur", took))
		default:
			req.Logger.Debug("request ok", logx.Duration("dur", took))
		}
		return err
	}
}

// deadline bounds the handler by d; zero leaves ctx as is.
func deadline(d time.Duration) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}
