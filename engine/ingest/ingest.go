// Package ingest embeds disaster text logs and photos and stores them in the
// text and image collections. Bulk runs come from a log file and an image
// directory; streamed field reports arrive over NATS.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/engine/embed"
	"github.com/WessleyAI/crisis-mvp/engine/semantic"
	"github.com/WessleyAI/crisis-mvp/pkg/fn"
	"github.com/WessleyAI/crisis-mvp/pkg/resilience"
	"github.com/google/uuid"
)

// DefaultWorkers bounds concurrent embedding calls per modality.
const DefaultWorkers = 4

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Text   embed.TextEmbedder
	Image  embed.ImageEmbedder
	Texts  semantic.Store
	Images semantic.Store
	Logger *slog.Logger

	Workers int
	// StoreBreaker guards both store stages. Optional.
	StoreBreaker *resilience.Breaker
	// OnRecord is called once per record with its outcome. Optional.
	OnRecord func(m domain.Modality, err error)
}

func (d Deps) log() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// --- Pipeline Stages ---

type embeddedText struct {
	Record domain.LogRecord
	Vector []float32
}

type embeddedImage struct {
	Record domain.ImageRecord
	Vector []float32
}

// NewEmbedText creates the stage that embeds a log record.
func NewEmbedText(e embed.TextEmbedder) fn.Stage[domain.LogRecord, embeddedText] {
	return fn.Lift(func(ctx context.Context, rec domain.LogRecord) (embeddedText, error) {
		vec, err := e.EmbedText(ctx, rec.Text)
		if err != nil {
			return embeddedText{}, err
		}
		return embeddedText{Record: rec, Vector: vec}, nil
	})
}

// NewStoreText creates the stage that upserts an embedded log record.
func NewStoreText(s semantic.Store) fn.Stage[embeddedText, string] {
	return fn.Lift(func(ctx context.Context, et embeddedText) (string, error) {
		if err := domain.CheckDims(s.Name(), domain.TextDims, et.Vector); err != nil {
			return "", err
		}
		if err := s.Upsert(ctx, []semantic.Point{{
			ID:      uuid.NewString(),
			Vector:  et.Vector,
			Payload: TextPayload(et.Record),
		}}); err != nil {
			return "", err
		}
		return et.Record.ID, nil
	})
}

// NewLoadImage creates the stage that reads an image file from disk.
func NewLoadImage() fn.Stage[domain.ImageRecord, imageFile] {
	return fn.Lift(func(_ context.Context, rec domain.ImageRecord) (imageFile, error) {
		data, err := os.ReadFile(rec.FilePath)
		if err != nil {
			return imageFile{}, err
		}
		return imageFile{Record: rec, Data: data}, nil
	})
}

// NewEmbedImage creates the stage that embeds image bytes.
func NewEmbedImage(e embed.ImageEmbedder) fn.Stage[imageFile, embeddedImage] {
	return fn.Lift(func(ctx context.Context, f imageFile) (embeddedImage, error) {
		vec, err := e.EmbedImage(ctx, f.Data)
		if err != nil {
			return embeddedImage{}, err
		}
		return embeddedImage{Record: f.Record, Vector: vec}, nil
	})
}

// NewStoreImage creates the stage that upserts an embedded image.
func NewStoreImage(s semantic.Store) fn.Stage[embeddedImage, string] {
	return fn.Lift(func(ctx context.Context, ei embeddedImage) (string, error) {
		if err := domain.CheckDims(s.Name(), domain.ImageDims, ei.Vector); err != nil {
			return "", err
		}
		if err := s.Upsert(ctx, []semantic.Point{{
			ID:      uuid.NewString(),
			Vector:  ei.Vector,
			Payload: ImagePayload(ei.Record),
		}}); err != nil {
			return "", err
		}
		return ei.Record.ID, nil
	})
}

// LoggedTap returns a stage that logs entry/exit with duration at debug level.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		start := time.Now()
		log.Debug("stage.enter", "stage", name)
		defer func() { log.Debug("stage.exit", "stage", name, "duration", time.Since(start)) }()
		return fn.Ok(t)
	}
}

// NewTextPipeline composes embed -> store for log records.
func NewTextPipeline(deps Deps) fn.Stage[domain.LogRecord, string] {
	log := deps.log()
	embedded := fn.Then(LoggedTap[domain.LogRecord]("text.embed", log), fn.Traced("ingest.text.embed", NewEmbedText(deps.Text)))
	return fn.Then(embedded, fn.Traced("ingest.text.store", guardStore(deps.StoreBreaker, NewStoreText(deps.Texts))))
}

// NewImagePipeline composes load -> embed -> store for images.
func NewImagePipeline(deps Deps) fn.Stage[domain.ImageRecord, string] {
	log := deps.log()
	loaded := fn.Then(LoggedTap[domain.ImageRecord]("image.load", log), fn.Traced("ingest.image.load", NewLoadImage()))
	embedded := fn.Then(loaded, fn.Traced("ingest.image.embed", NewEmbedImage(deps.Image)))
	return fn.Then(embedded, fn.Traced("ingest.image.store", guardStore(deps.StoreBreaker, NewStoreImage(deps.Images))))
}

// guardStore runs a store stage behind b. An open breaker reads as an
// unavailable store so runs abort instead of failing record by record.
func guardStore[In any](b *resilience.Breaker, stage fn.Stage[In, string]) fn.Stage[In, string] {
	if b == nil {
		return stage
	}
	guarded := resilience.BreakerStage(b, stage)
	return func(ctx context.Context, in In) fn.Result[string] {
		r := guarded(ctx, in)
		if _, err := r.Unwrap(); errors.Is(err, resilience.ErrCircuitOpen) {
			return fn.Err[string](fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		}
		return r
	}
}

// NewStoreBreaker builds the breaker for store writes. Only outages count
// against it; a bad record does not.
func NewStoreBreaker(onState func(name string, from, to resilience.State)) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerOpts{
		Name:          "qdrant",
		IsFailure:     semantic.IsUnavailable,
		OnStateChange: onState,
	})
}

// TextPayload is the stored payload of a log record.
func TextPayload(rec domain.LogRecord) map[string]any {
	p := map[string]any{
		semantic.KeyRecordID: rec.ID,
		semantic.KeyChatText: rec.Text,
		semantic.KeyRole:     rec.Role.String(),
	}
	if rec.SourceTimestamp != nil {
		p[semantic.KeyTimestamp] = rec.SourceTimestamp.Format(time.RFC3339)
	}
	if rec.Location != "" {
		p[semantic.KeyLocation] = rec.Location
	}
	return p
}

// ImagePayload is the stored payload of an image record.
func ImagePayload(rec domain.ImageRecord) map[string]any {
	return map[string]any{
		semantic.KeyRecordID:    rec.ID,
		semantic.KeyFilename:    rec.ID,
		semantic.KeyDescription: rec.Caption,
		semantic.KeyType:        semantic.TypePhoto,
		semantic.KeyFilePath:    rec.FilePath,
	}
}

// Droppable is a store whose collection can be deleted.
type Droppable interface {
	Name() string
	DeleteCollection(ctx context.Context) error
}

// Reset deletes each collection so the next Bootstrap recreates it empty.
func Reset(ctx context.Context, log *slog.Logger, stores ...Droppable) error {
	for _, s := range stores {
		if err := s.DeleteCollection(ctx); err != nil {
			return fmt.Errorf("ingest: reset %s: %w", s.Name(), err)
		}
		log.Warn("collection dropped", "collection", s.Name())
	}
	return nil
}

// Bootstrap creates both collections if absent and checks their sizes.
func Bootstrap(ctx context.Context, texts, images semantic.Store) error {
	if err := texts.EnsureCollection(ctx, domain.TextDims); err != nil {
		return fmt.Errorf("ingest: bootstrap %s: %w", texts.Name(), err)
	}
	if err := images.EnsureCollection(ctx, domain.ImageDims); err != nil {
		return fmt.Errorf("ingest: bootstrap %s: %w", images.Name(), err)
	}
	return nil
}

// Ingest embeds every line of logPath and every image in imageDir. Either
// path may be empty to skip that modality. Per-record failures land in the
// report; an unavailable vector store aborts the whole run.
func Ingest(ctx context.Context, deps Deps, logPath, imageDir string) (rep Report, err error) {
	log := deps.log()
	rep = Report{LogFile: logPath, ImageDir: imageDir, StartedAt: time.Now()}
	defer func() { rep.Duration = time.Since(rep.StartedAt) }()

	if err := Bootstrap(ctx, deps.Texts, deps.Images); err != nil {
		return rep, err
	}

	run := &runState{deps: deps}
	ctx, run.cancel = context.WithCancelCause(ctx)
	defer run.cancel(nil)

	if logPath != "" {
		records, read, skipped, err := readLog(logPath)
		rep.LinesRead, rep.LinesSkipped = read, skipped
		if err != nil {
			return rep, err
		}
		log.Info("ingest text start", "file", logPath, "records", len(records), "skipped", skipped)
		ids := run.each(ctx, domain.ModalityText, len(records), func(ctx context.Context, i int) fn.Result[string] {
			return NewTextPipeline(deps)(ctx, records[i])
		}, func(i int) string { return records[i].ID })
		rep.TextIngested = ids
	}

	if fatal := context.Cause(ctx); fatal != nil {
		rep.Errors = run.errors
		return rep, fatal
	}

	if imageDir != "" {
		images, err := listImages(imageDir)
		if err != nil {
			rep.Errors = run.errors
			return rep, err
		}
		rep.ImagesSeen = len(images)
		log.Info("ingest images start", "dir", imageDir, "images", len(images))
		rep.ImagesIngested = run.each(ctx, domain.ModalityImage, len(images), func(ctx context.Context, i int) fn.Result[string] {
			return NewImagePipeline(deps)(ctx, images[i])
		}, func(i int) string { return images[i].ID })
	}

	rep.Errors = run.errors
	if fatal := context.Cause(ctx); fatal != nil {
		return rep, fatal
	}
	log.Info("ingest done",
		"text", rep.TextIngested,
		"images", rep.ImagesIngested,
		"skipped_lines", rep.LinesSkipped,
		"failed", rep.Failed(),
	)
	return rep, nil
}

// IngestRecord embeds and stores a single log record, as used by the
// streaming consumer.
func IngestRecord(ctx context.Context, deps Deps, rec domain.LogRecord) error {
	_, err := NewTextPipeline(deps)(ctx, rec).Unwrap()
	if deps.OnRecord != nil {
		deps.OnRecord(domain.ModalityText, err)
	}
	if err != nil {
		return &domain.RecordError{ID: rec.ID, Modality: domain.ModalityText, Reason: err.Error(), Err: err}
	}
	return nil
}

// runState collects per-record errors and cancels the run on store outage.
type runState struct {
	deps   Deps
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	errors []*domain.RecordError
}

// each runs stage over n records with bounded parallelism and returns the
// number that succeeded.
func (r *runState) each(ctx context.Context, m domain.Modality, n int, stage func(context.Context, int) fn.Result[string], id func(int) string) int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	workers := r.deps.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := r.deps.log()

	results := fn.ParMap(idx, workers, func(i int) fn.Result[string] {
		if err := context.Cause(ctx); err != nil {
			return fn.Err[string](err)
		}
		res := stage(ctx, i)
		if _, err := res.Unwrap(); err != nil {
			if errors.Is(err, domain.ErrStoreUnavailable) {
				r.cancel(fmt.Errorf("ingest: aborting run: %w", err))
			}
			if r.deps.OnRecord != nil {
				r.deps.OnRecord(m, err)
			}
			r.record(&domain.RecordError{ID: id(i), Modality: m, Reason: err.Error(), Err: err})
			log.Warn("ingest record failed", "modality", m, "id", id(i), "err", err)
			return res
		}
		if r.deps.OnRecord != nil {
			r.deps.OnRecord(m, nil)
		}
		return res
	})
	ok, _ := fn.Partition(results)
	return len(ok)
}

func (r *runState) record(e *domain.RecordError) {
	r.mu.Lock()
	r.errors = append(r.errors, e)
	r.mu.Unlock()
}
