// Command chat serves the crisis assistant: a JSON chat API grounded on the
// text and image collections, a metrics endpoint, and, when NATS_URL is set,
// a request/reply responder on crisis.chat.ask.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/crisis-mvp/engine/conversation"
	"github.com/WessleyAI/crisis-mvp/engine/embed"
	"github.com/WessleyAI/crisis-mvp/engine/ingest"
	"github.com/WessleyAI/crisis-mvp/engine/retrieval"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/engine/synth"
	"github.com/WessleyAI/crisis-mvp/pkg/clip"
	"github.com/WessleyAI/crisis-mvp/pkg/config"
	"github.com/WessleyAI/crisis-mvp/pkg/llm"
	"github.com/WessleyAI/crisis-mvp/pkg/metrics"
	"github.com/WessleyAI/crisis-mvp/pkg/mid"
	"github.com/WessleyAI/crisis-mvp/pkg/natsutil"
	"github.com/WessleyAI/crisis-mvp/pkg/ollama"
	"github.com/WessleyAI/crisis-mvp/pkg/repo"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
)

// AskSubject is the NATS request/reply subject for questions.
const AskSubject = "crisis.chat.ask"

func main() {
	cfg, err := config.Load(config.Chat)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg)}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("chat server exited with error", "err", err)
		os.Exit(1)
	}
}

func logLevel(cfg *config.Config) slog.Level {
	var lvl slog.Level
	if cfg == nil || lvl.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))) != nil {
		return slog.LevelInfo
	}
	return lvl
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	inst := metrics.NewInstruments(reg)

	// --- Qdrant: one connection, two collections ---
	conn, err := semantic.Dial(cfg.Qdrant.URL, cfg.Qdrant.APIKey)
	if err != nil {
		return fmt.Errorf("qdrant dial: %w", err)
	}
	defer conn.Close()
	texts := semantic.NewFromConn(conn, cfg.Qdrant.TextCollection)
	images := semantic.NewFromConn(conn, cfg.Qdrant.ImageCollection)
	if err := ingest.Bootstrap(ctx, texts, images); err != nil {
		return err
	}

	// --- Embedders behind a shared limiter and per-backend breakers ---
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Embed.Rate, Burst: cfg.Embed.Burst})
	onState := func(name string, from, to resilience.State) {
		logger.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
	}
	textEmb := embed.CheckedText{
		Inner: embed.GuardedText{
			Inner: ollama.NewEmbedClient(cfg.Embed.OllamaURL, cfg.Embed.TextModel, cfg.RequestTimeout),
			Guard: embed.Guard{Limiter: limiter, Breaker: resilience.NewBreaker(resilience.BreakerOpts{Name: "ollama", OnStateChange: onState})},
		},
		Collection: texts.Name(),
	}
	imageEmb := embed.CheckedImage{
		Inner: embed.GuardedImage{
			Inner: clip.New(cfg.Embed.ClipURL, cfg.Embed.ClipModel, cfg.RequestTimeout),
			Guard: embed.Guard{Limiter: limiter, Breaker: resilience.NewBreaker(resilience.BreakerOpts{Name: "clip", OnStateChange: onState})},
		},
		Collection: images.Name(),
	}

	// --- LLM ---
	model, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.Embed.OllamaURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}
	logger.Info("llm ready", "model", model.Name())

	// --- Engine ---
	ropts := retrieval.DefaultOptions()
	ropts.TextThreshold = cfg.Retrieval.TextThreshold
	ropts.ImageThreshold = cfg.Retrieval.ImageThreshold
	ropts.TextLimit = cfg.Retrieval.TextTopK
	ropts.ImageLimit = cfg.Retrieval.ImageTopK
	ropts.SearchTimeout = cfg.RequestTimeout
	retriever := retrieval.New(retrieval.Deps{
		Text: textEmb, Image: imageEmb, Texts: texts, Images: images,
		Logger: logger, Observe: inst.Search,
	}, ropts)

	synthesizer := synth.New(model,
		resilience.NewBreaker(resilience.BreakerOpts{Name: "llm", OnStateChange: onState}),
		synth.DefaultOptions(), logger)

	convoOpts := conversation.Options{Logger: logger}
	if cfg.EpisodicMemory {
		convoOpts.Memory = conversation.NewMemory(textEmb, texts)
	}
	if cfg.Neo4jEnabled() {
		driver, err := repo.Connect(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Pass)
		if err != nil {
			logger.Warn("transcript archive disabled", "err", err)
		} else {
			defer closeDriver(driver)
			convoOpts.Archive = conversation.NewNeo4jArchive(driver)
			logger.Info("transcript archive enabled", "neo4j", cfg.Neo4j.URL)
		}
	}

	svc := &Service{
		Retriever: retriever,
		Synth:     synthesizer,
		Convo:     conversation.NewManager(convoOpts),
		Reports: &ingest.Deps{
			Text: textEmb, Image: imageEmb, Texts: texts, Images: images,
			Logger: logger, OnRecord: inst.IngestRecord, StoreBreaker: ingest.NewStoreBreaker(onState),
		},
		Stores:  []semantic.Store{texts, images},
		Metrics: inst,
		Logger:  logger,
	}

	// --- HTTP ---
	handler := mid.Chain(routes(svc),
		mid.Recover(logger),
		mid.WithRequestID(),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS("*"),
		mid.OTel("crisis-chat"),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2*cfg.RequestTimeout + synth.DefaultOptions().Timeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chat api starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	g.Go(func() error { return reg.Serve(gctx, ":"+cfg.MetricsPort) })
	g.Go(func() error {
		metrics.CollectRuntime(gctx, reg, 15*time.Second)
		return nil
	})

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("crisis-chat"))
		if err != nil {
			logger.Warn("nats unavailable, responder disabled", "url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Drain()
			if _, err := serveNATS(nc, svc, cfg.RequestTimeout+synth.DefaultOptions().Timeout); err != nil {
				return fmt.Errorf("nats serve %s: %w", AskSubject, err)
			}
			logger.Info("nats responder ready", "subject", AskSubject)
		}
	}

	return g.Wait()
}

// serveNATS answers AskSubject requests with the same flow as POST /api/chat.
func serveNATS(nc *nats.Conn, svc *Service, timeout time.Duration) (*nats.Subscription, error) {
	return natsutil.Serve(nc, AskSubject, func(ctx context.Context, req AskRequest) (AskResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return svc.Ask(ctx, req)
	})
}

func closeDriver(d neo4j.DriverWithContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.Close(ctx)
}
