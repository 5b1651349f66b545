// Command console is a terminal chat client for the crisis assistant. It
// talks to cmd/chat over HTTP, or asks over NATS when -nats is set.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

type options struct {
	addr    string
	natsURL string
	timeout time.Duration
	logFile string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	flags := flag.NewFlagSet("console", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&o.addr, "addr", envOr("CHAT_URL", "http://localhost:8090"), "chat server base URL")
	flags.StringVar(&o.natsURL, "nats", "", "ask over NATS at this URL instead of HTTP")
	flags.DurationVar(&o.timeout, "timeout", 60*time.Second, "per-request timeout")
	flags.StringVar(&o.logFile, "log", "", "write debug logs to this file")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	if o.addr == "" {
		return o, errors.New("-addr must not be empty")
	}
	return o, nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "console: .env:", err)
	}
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "console:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	var logOut io.Writer = io.Discard
	if opts.logFile != "" {
		f, err := tea.LogToFile(opts.logFile, "console")
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	httpBackend := &HTTPBackend{BaseURL: opts.addr, Client: &http.Client{Timeout: opts.timeout}}
	var backend Backend = httpBackend
	if opts.natsURL != "" {
		nc, err := nats.Connect(opts.natsURL, nats.Name("crisis-console"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
		backend = &NATSBackend{Conn: nc, HTTP: httpBackend}
		logger.Info("asking over nats", "url", opts.natsURL, "subject", askSubject)
	}

	p := tea.NewProgram(NewModel(backend, httpBackend.ImageURL, opts.timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
