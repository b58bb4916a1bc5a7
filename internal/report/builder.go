package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/metrics"
	"github.com/Checker-Finance/mbb-usage-report/internal/nextpertise"
	"github.com/Checker-Finance/mbb-usage-report/pkg/model"
)

// ConnectionLister lists the connections a report covers.
type ConnectionLister interface {
	ListActiveConnections(ctx context.Context, debtorCode string, pageSize int) ([]nextpertise.Connection, error)
}

// UsageFetcher looks up the month-to-date usage of one connection.
type UsageFetcher interface {
	MonthToDateUsage(ctx context.Context, connectionID, billingCycle string) (*nextpertise.Usage, error)
}

// Sink receives a finished report. Sink errors are logged and never fail a run.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, summary *model.RunSummary, rows []model.UsageRow) error
}

// Options selects what a report covers and where it is written.
type Options struct {
	DebtorCode   string
	BillingCycle string
	PageSize     int
	OutputDir    string
}

// Builder produces the usage report file.
type Builder struct {
	logger *zap.Logger
	lister ConnectionLister
	usage  UsageFetcher
	opts   Options
	sinks  []Sink
	now    func() time.Time
}

// NewBuilder creates a Builder. Sinks run in order after the file has been written.
func NewBuilder(logger *zap.Logger, lister ConnectionLister, usage UsageFetcher, opts Options, sinks ...Sink) *Builder {
	return &Builder{
		logger: logger,
		lister: lister,
		usage:  usage,
		opts:   opts,
		sinks:  sinks,
		now:    time.Now,
	}
}

// Path returns the destination file of the report.
func (b *Builder) Path() string {
	return filepath.Join(b.opts.OutputDir, FileName(b.opts.DebtorCode))
}

// Build lists the active connections, looks up each connection's usage in listing order
// and writes the report. The first error aborts the run; the file is only written once
// every row has been built, so a failed run leaves any previous report untouched.
func (b *Builder) Build(ctx context.Context) (*model.RunSummary, error) {
	summary := &model.RunSummary{
		RunID:        uuid.New(),
		DebtorCode:   b.opts.DebtorCode,
		BillingCycle: b.opts.BillingCycle,
		File:         b.Path(),
		StartedAt:    b.now().UTC(),
	}
	log := b.logger.With(zap.String("run_id", summary.RunID.String()))

	conns, err := b.lister.ListActiveConnections(ctx, b.opts.DebtorCode, b.opts.PageSize)
	if err != nil {
		metrics.IncError("report", "list")
		return nil, fmt.Errorf("list active connections: %w", err)
	}
	log.Info("report.connections_loaded", zap.Int("count", len(conns)))

	rows := make([]model.UsageRow, 0, len(conns))
	for _, conn := range conns {
		usage, err := b.usage.MonthToDateUsage(ctx, conn.UUID, b.opts.BillingCycle)
		if err != nil {
			metrics.IncError("report", "usage")
			return nil, fmt.Errorf("usage for connection %s: %w", conn.UUID, err)
		}
		rows = append(rows, NewRow(conn, usage))
	}

	data, err := Render(rows)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	if err := writeFile(summary.File, data); err != nil {
		metrics.IncError("report", "write")
		return nil, err
	}

	summary.Rows = len(rows)
	summary.TotalBytes, summary.TotalSMS = totals(rows)
	summary.FinishedAt = b.now().UTC()
	usageBytes, _ := summary.TotalBytes.Float64()
	metrics.RecordRun(summary.Rows, usageBytes, summary.FinishedAt)

	log.Info("report.written",
		zap.String("file", summary.File),
		zap.Int("rows", summary.Rows),
		zap.String("usage", humanize.BigBytes(summary.TotalBytes.BigInt())),
		zap.String("sms", summary.TotalSMS.String()),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))

	for _, s := range b.sinks {
		if err := s.Deliver(ctx, summary, rows); err != nil {
			metrics.IncError(s.Name(), "deliver")
			log.Warn("report.sink_failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	return summary, nil
}

// Render returns the full CSV document for rows, header included.
func Render(rows []model.UsageRow) ([]byte, error) {
	var buf bytes.Buffer
	w := newCSVWriter(&buf)
	if err := w.write(headerFields()...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.write(rowFields(row)...); err != nil {
			return nil, err
		}
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFile replaces path with data through a temporary file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace report file: %w", err)
	}
	return nil
}

func totals(rows []model.UsageRow) (usageBytes, sms decimal.Decimal) {
	for _, r := range rows {
		if d := r.UsageInBytes.Decimal(); d.Valid {
			usageBytes = usageBytes.Add(d.Decimal)
		}
		if d := r.SMSUsage.Decimal(); d.Valid {
			sms = sms.Add(d.Decimal)
		}
	}
	return usageBytes, sms
}
