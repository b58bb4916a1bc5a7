package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRow is one denormalized line of the usage report: a connection joined with its
// month-to-date usage. Usage columns keep the JSON type the API sent them as.
type UsageRow struct {
	UUID         string     `json:"uuid"`
	NID          string     `json:"nid"`
	IMSI         string     `json:"imsi"`
	ICCID        string     `json:"iccid"`
	Tags         []string   `json:"tags"`
	UsageInBytes UsageValue `json:"usage_in_bytes"`
	I18nUsage    UsageValue `json:"i18n_usage"`
	SMSUsage     UsageValue `json:"sms_usage"`
}

// RunSummary describes a finished report run.
type RunSummary struct {
	RunID        uuid.UUID       `json:"run_id"`
	DebtorCode   string          `json:"debtor_code,omitempty"`
	BillingCycle string          `json:"billing_cycle,omitempty"`
	File         string          `json:"file"`
	Rows         int             `json:"rows"`
	TotalBytes   decimal.Decimal `json:"total_bytes"`
	TotalSMS     decimal.Decimal `json:"total_sms"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// ReportGeneratedEvent is published once a report file has been written.
type ReportGeneratedEvent struct {
	EventType string     `json:"event_type"`
	Service   string     `json:"service"`
	Summary   RunSummary `json:"summary"`
	Timestamp time.Time  `json:"timestamp"`
}
