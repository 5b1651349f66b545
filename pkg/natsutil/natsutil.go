// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation and delivery-attempt headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader carries how many times a message has already failed.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Delivery is a decoded message plus its retry count.
type Delivery[T any] struct {
	Subject string
	Value   T
	Retries int
	Raw     []byte
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Republish sends raw data back to subject with the retry header set.
func Republish(ctx context.Context, nc *nats.Conn, subject string, data []byte, retries int) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	msg.Header.Set(RetryHeader, strconv.Itoa(retries))
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// RetryCount reads RetryHeader, treating absent or garbage values as zero.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, Delivery[T])) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Warn("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, Delivery[T]{Subject: msg.Subject, Value: v, Retries: RetryCount(msg), Raw: msg.Data})
	})
}

// ErrorReply is the body sent by Serve when the handler fails.
type ErrorReply struct {
	Error string `json:"error"`
}

// Serve answers JSON requests on subject. A handler error is returned to the
// caller as an ErrorReply body.
func Serve[Req, Resp any](nc *nats.Conn, subject string, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			respondJSON(msg, ErrorReply{Error: "malformed request: " + err.Error()})
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		resp, err := handler(ctx, req)
		if err != nil {
			respondJSON(msg, ErrorReply{Error: err.Error()})
			return
		}
		respondJSON(msg, resp)
	})
}

func respondJSON(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("natsutil: encode reply", "subject", msg.Subject, "err", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("natsutil: respond", "subject", msg.Subject, "err", err)
	}
}

// Request sends a JSON-encoded request and decodes the response. The wait is
// bounded by ctx, or nats.DefaultTimeout when ctx has no deadline. An
// ErrorReply body is returned as an error.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	var er ErrorReply
	if json.Unmarshal(resp.Data, &er) == nil && er.Error != "" {
		return zero, fmt.Errorf("natsutil: request %s: remote: %s", subject, er.Error)
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply %s: %w", subject, err)
	}
	return result, nil
}
