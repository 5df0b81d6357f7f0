package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the exchange and request data carried by
// the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("host", rd.Host),
			slog.String("path", rd.Path),
		))
	}

	if ed, ok := ctx.Value(exchangeDataKey{}).(*ExchangeData); ok {
		r.AddAttrs(slog.Group("exchange",
			slog.String("client_id", ed.ClientID),
			slog.String("scope", ed.Scope),
			slog.Uint64("generation", ed.Generation),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type requestDataKey struct{}

// RequestData describes the outgoing request a token is being obtained for.
type RequestData struct {
	Method string
	Host   string
	Path   string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type exchangeDataKey struct{}

// ExchangeData describes a token exchange in flight.
type ExchangeData struct {
	ClientID   string
	Scope      string
	Generation uint64
}

func WithExchangeData(ctx context.Context, data *ExchangeData) context.Context {
	return context.WithValue(ctx, exchangeDataKey{}, data)
}
