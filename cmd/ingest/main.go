// Command ingest loads a disaster text log and a directory of photos into the
// text and image collections. With -watch it also consumes streamed field
// reports from NATS until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/crisis-mvp/engine/embed"
	"github.com/WessleyAI/crisis-mvp/engine/ingest"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/pkg/clip"
	"github.com/WessleyAI/crisis-mvp/pkg/config"
	"github.com/WessleyAI/crisis-mvp/pkg/metrics"
	"github.com/WessleyAI/crisis-mvp/pkg/ollama"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
)

type options struct {
	logs    string
	images  string
	watch   bool
	workers int
	jsonOut bool
	reset   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.logs, "logs", "", "text log file, one report per line")
	fs.StringVar(&o.images, "images", "", "directory of .jpg/.jpeg/.png photos")
	fs.BoolVar(&o.watch, "watch", false, "consume field reports from NATS ("+ingest.ReportsSubject+") until interrupted")
	fs.IntVar(&o.workers, "workers", ingest.DefaultWorkers, "concurrent embed/store workers")
	fs.BoolVar(&o.jsonOut, "json", false, "print the run report as JSON")
	fs.BoolVar(&o.reset, "reset", false, "drop both collections before loading")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.logs == "" && o.images == "" && !o.watch {
		return o, errors.New("nothing to do: pass -logs, -images or -watch")
	}
	return o, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("invalid flags", "err", err)
		os.Exit(2)
	}
	cfg, err := config.Load(config.Ingest)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, opts, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := semantic.Dial(cfg.Qdrant.URL, cfg.Qdrant.APIKey)
	if err != nil {
		return fmt.Errorf("qdrant dial: %w", err)
	}
	defer conn.Close()
	texts := semantic.NewFromConn(conn, cfg.Qdrant.TextCollection)
	images := semantic.NewFromConn(conn, cfg.Qdrant.ImageCollection)
	if opts.reset {
		if err := ingest.Reset(ctx, logger, texts, images); err != nil {
			return err
		}
	}
	if err := ingest.Bootstrap(ctx, texts, images); err != nil {
		return err
	}

	reg := metrics.New()
	inst := metrics.NewInstruments(reg)
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Embed.Rate, Burst: cfg.Embed.Burst})
	deps := ingest.Deps{
		Text: embed.CheckedText{
			Inner: embed.GuardedText{
				Inner: ollama.NewEmbedClient(cfg.Embed.OllamaURL, cfg.Embed.TextModel, cfg.RequestTimeout),
				Guard: embed.Guard{Limiter: limiter},
			},
			Collection: texts.Name(),
		},
		Image: embed.CheckedImage{
			Inner: embed.GuardedImage{
				Inner: clip.New(cfg.Embed.ClipURL, cfg.Embed.ClipModel, cfg.RequestTimeout),
				Guard: embed.Guard{Limiter: limiter},
			},
			Collection: images.Name(),
		},
		Texts:        texts,
		Images:       images,
		Logger:       logger,
		Workers:      opts.workers,
		OnRecord:     inst.IngestRecord,
		StoreBreaker: ingest.NewStoreBreaker(func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
		}),
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("crisis-ingest"))
		if err != nil {
			if opts.watch {
				return fmt.Errorf("nats connect: %w", err)
			}
			logger.Warn("nats unavailable, run report will not be published", "err", err)
			nc = nil
		} else {
			defer nc.Drain()
		}
	} else if opts.watch {
		return errors.New("-watch requires NATS_URL")
	}

	if opts.logs != "" || opts.images != "" {
		rep, err := ingest.Ingest(ctx, deps, opts.logs, opts.images)
		printReport(os.Stdout, rep, opts.jsonOut)
		if nc != nil {
			if perr := ingest.PublishReport(ctx, nc, rep); perr != nil {
				logger.Warn("publish run report failed", "err", perr)
			}
		}
		if err != nil {
			return err
		}
	}

	if !opts.watch {
		return nil
	}

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logger.Info("watching for field reports", "subject", ingest.ReportsSubject, "dlq", ingest.DLQSubject)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reg.Serve(gctx, ":"+cfg.MetricsPort) })
	g.Go(func() error {
		metrics.CollectRuntime(gctx, reg, 15*time.Second)
		return nil
	})
	return g.Wait()
}

func printReport(w io.Writer, rep ingest.Report, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}
	fmt.Fprintf(w, "text:   %d ingested, %d lines read, %d skipped\n", rep.TextIngested, rep.LinesRead, rep.LinesSkipped)
	fmt.Fprintf(w, "images: %d ingested of %d seen\n", rep.ImagesIngested, rep.ImagesSeen)
	fmt.Fprintf(w, "failed: %d records in %s\n", rep.Failed(), rep.Duration.Round(time.Millisecond))
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  - %s %s: %s\n", e.Modality, e.ID, e.Reason)
	}
}
