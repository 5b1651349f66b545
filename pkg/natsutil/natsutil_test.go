package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

type report struct {
	Text     string `json:"text"`
	Location string `json:"location"`
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)
	if carrier.Get("missing") != "" || carrier.Keys() != nil {
		t.Fatal("empty carrier should have no keys")
	}
	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"2", 2},
		{"abc", 0},
		{"-1", 0},
	}
	for _, c := range cases {
		msg := &nats.Msg{Header: nats.Header{}}
		if c.header != "" {
			msg.Header.Set(RetryHeader, c.header)
		}
		if got := RetryCount(msg); got != c.want {
			t.Errorf("RetryCount(%q) = %d, want %d", c.header, got, c.want)
		}
	}
	if RetryCount(&nats.Msg{}) != 0 {
		t.Error("nil header should count as zero")
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan Delivery[report], 1)
	sub, err := Subscribe(nc, "crisis.reports", func(_ context.Context, d Delivery[report]) { ch <- d })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "crisis.reports", report{Text: "Bridge closed", Location: "River X"}); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-ch:
		if d.Value.Text != "Bridge closed" || d.Retries != 0 || d.Subject != "crisis.reports" {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRepublishCarriesRetryCount(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan Delivery[report], 1)
	sub, err := Subscribe(nc, "crisis.reports", func(_ context.Context, d Delivery[report]) { ch <- d })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Republish(context.Background(), nc, "crisis.reports", []byte(`{"text":"Levee breach"}`), 2); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-ch:
		if d.Retries != 2 || d.Value.Text != "Levee breach" {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := Subscribe(nc, "crisis.bad", func(context.Context, Delivery[report]) { called <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_ = nc.Publish("crisis.bad", []byte("{bad"))
	_ = nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case <-time.After(100 * time.Millisecond):
	}
}

type ask struct {
	Question string `json:"question"`
}

type answer struct {
	Answer string `json:"answer"`
}

func TestServeAndRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := Serve(nc, "crisis.chat.ask", func(_ context.Context, a ask) (answer, error) {
		if a.Question == "" {
			return answer{}, errors.New("question is empty")
		}
		return answer{Answer: "re: " + a.Question}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	got, err := Request[ask, answer](context.Background(), nc, "crisis.chat.ask", ask{Question: "Any flooding?"})
	if err != nil || got.Answer != "re: Any flooding?" {
		t.Fatalf("got %+v, %v", got, err)
	}

	if _, err := Request[ask, answer](context.Background(), nc, "crisis.chat.ask", ask{}); err == nil {
		t.Fatal("expected remote error")
	}
}

func TestRequestTimeout(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Request[ask, answer](ctx, nc, "crisis.nobody", ask{Question: "x"}); err == nil {
		t.Fatal("expected timeout or no-responders error")
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)
	if err := Publish(context.Background(), nc, "crisis.x", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}
