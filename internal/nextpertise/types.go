package nextpertise

import "github.com/Checker-Finance/mbb-usage-report/pkg/model"

// Connection is a mobile broadband connection as returned by the listing endpoint.
type Connection struct {
	UUID         string       `json:"uuid"`
	IsActive     bool         `json:"is_active"`
	Carrier      Carrier      `json:"carrier"`
	Organization Organization `json:"organization"`
}

// Carrier holds the network-side identifiers of a connection.
type Carrier struct {
	NID  string   `json:"nid"`
	IMSI string   `json:"imsi"`
	SIM  SIM      `json:"sim"`
	Tags []string `json:"tags"`
}

// SIM identifies the SIM card of a connection.
type SIM struct {
	ICCID string `json:"iccid"`
}

// Organization is the customer a connection is billed to.
type Organization struct {
	DebtorCode string `json:"debtor_code"`
}

// connectionsPage is one page of GET /mobile-broadband/connections/.
type connectionsPage struct {
	Results []Connection `json:"results"`
}

// Usage is the month-to-date usage of one connection.
// GET /mobile-broadband/connections/{uuid}/usage/month-to-date/
type Usage struct {
	ConnectionID string
	BillingCycle string
	UsageInBytes model.UsageValue
	I18nUsage    model.UsageValue
	SMSUsage     model.UsageValue
}
