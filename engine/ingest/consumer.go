package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/WessleyAI/crisis-mvp/engine/domain"
	"github.com/WessleyAI/crisis-mvp/pkg/natsutil"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// ReportsSubject carries streamed field reports as JSON LogRecords.
	ReportsSubject = "crisis.reports"
	// DLQSubject receives reports that failed MaxRetries times.
	DLQSubject = "crisis.reports.dlq"
	// RunReportSubject receives the Report of each bulk run.
	RunReportSubject = "crisis.ingest.report"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Record  domain.LogRecord `json:"record"`
	Error   string           `json:"error"`
	Retries int              `json:"retries"`
}

// normalizeReport fills defaults for a streamed report. Streamed reports are
// always system reports.
func normalizeReport(rec domain.LogRecord) (domain.LogRecord, error) {
	rec.Text = strings.TrimSpace(rec.Text)
	if rec.Text == "" {
		return rec, domain.NewValidationError("text", "", domain.ErrQueryEmpty)
	}
	if rec.ID == "" {
		rec.ID = "nats-" + uuid.NewString()
	}
	rec.Role = domain.RoleSystemReport
	return rec, nil
}

// StartConsumer subscribes to ReportsSubject and ingests each report, retrying
// failures via republish and parking them on DLQSubject after MaxRetries.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	log := deps.log()
	return natsutil.Subscribe(nc, ReportsSubject, func(ctx context.Context, d natsutil.Delivery[domain.LogRecord]) {
		rec, err := normalizeReport(d.Value)
		if err != nil {
			log.Warn("ingest: dropping invalid report", "err", err)
			return
		}

		if err := IngestRecord(ctx, deps, rec); err != nil {
			retries := d.Retries + 1
			log.Error("ingest: report failed", "id", rec.ID, "retry", retries, "err", err)

			if retries >= MaxRetries {
				dlq := dlqMessage{Record: rec, Error: err.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "err", err)
				}
				return
			}
			if err := natsutil.Republish(ctx, nc, ReportsSubject, d.Raw, retries); err != nil {
				log.Error("ingest: retry publish failed", "err", err)
			}
			return
		}
		log.Info("ingest: report stored", "id", rec.ID, "location", rec.Location)
	})
}

// PublishReport announces a finished bulk run on RunReportSubject.
func PublishReport(ctx context.Context, nc *nats.Conn, rep Report) error {
	if err := natsutil.Publish(ctx, nc, RunReportSubject, rep); err != nil {
		return fmt.Errorf("ingest: publish report: %w", err)
	}
	return nil
}
