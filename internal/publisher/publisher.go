package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/metrics"
	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

// EventReportGenerated is the event type of ReportGeneratedEvent.
const EventReportGenerated = "mbb.usage_report.generated"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Publisher announces finished reports on NATS.
type Publisher struct {
	nc      Conn
	subject string
	service string
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a Publisher for subject.
func New(nc Conn, subject, service string, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:      nc,
		subject: subject,
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// Name identifies the publisher as a report sink.
func (p *Publisher) Name() string { return "publisher" }

// Deliver publishes a ReportGeneratedEvent and waits for the server to acknowledge the flush.
func (p *Publisher) Deliver(ctx context.Context, summary *model.RunSummary, _ []model.UsageRow) error {
	event := model.ReportGeneratedEvent{
		EventType: EventReportGenerated,
		Service:   p.service,
		Summary:   *summary,
		Timestamp: p.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return fmt.Errorf("marshal report event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{EventReportGenerated},
			"correlation_id": []string{summary.RunID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		metrics.IncError("publisher", "publish_failed")
		return fmt.Errorf("publish report event: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		metrics.IncError("publisher", "flush_failed")
		return fmt.Errorf("flush report event: %w", err)
	}

	p.logger.Info("publisher.publish_success",
		zap.String("subject", p.subject),
		zap.String("run_id", summary.RunID.String()))
	return nil
}
