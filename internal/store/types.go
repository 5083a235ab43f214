// Package store defines the persisted-state contract (spec §3, §6) as a set of Go
// interfaces. The real transactional store is an external collaborator (spec §1); this
// package only describes its shape. See store/memstore for an in-memory stand-in used by
// tests and to make the engine runnable standalone.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType enumerates the supported order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus enumerates the order lifecycle states (spec §3).
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// IsTerminal reports whether status does not transition further.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is a single trading order (spec §3).
type Order struct {
	ID                string
	ParticipantID     string
	Symbol            string
	Side              Side
	Type              OrderType
	Quantity          decimal.Decimal
	LimitPrice        decimal.Decimal // zero value means "not set" for MARKET orders
	HasLimitPrice     bool
	StopPrice         decimal.Decimal
	HasStopPrice      bool
	Status            OrderStatus
	FilledQuantity    decimal.Decimal
	AvgFillPrice      decimal.Decimal
	TickSubmitted     int64
	TickFilled        int64
	HasTickFilled     bool
	CreatedAt         time.Time
}

// Remaining returns Quantity - FilledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is an immutable match between two orders (spec §3).
type Trade struct {
	ID            string
	Tick          int64
	Symbol        string
	BuyerID       string
	SellerID      string
	BuyerOrderID  string
	SellerOrderID string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	CreatedAt     time.Time
}

// Holding is a participant's position in a symbol (spec §3). A record must exist iff
// Quantity != 0.
type Holding struct {
	ParticipantID string
	Symbol        string
	Quantity      decimal.Decimal // signed; negative = short
	AverageCost   decimal.Decimal
}

// AccountStatus enumerates participant account states.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountBankrupt  AccountStatus = "bankrupt"
	AccountImprisoned AccountStatus = "imprisoned"
	AccountFled      AccountStatus = "fled"
)

// Role enumerates a participant's in-simulation role (spec §4.5 BRIBE "SEC-role participant").
type Role string

const (
	RoleTrader Role = "trader"
	RoleSEC    Role = "sec"
)

// ParticipantAccount is a trading participant's account state (spec §3).
type ParticipantAccount struct {
	ID                  string
	Role                Role
	Cash                decimal.Decimal
	MarginUsed          decimal.Decimal
	MarginLimit         decimal.Decimal
	Status              AccountStatus
	Reputation          int
	WebhookFailures      int
	LastWebhookError     string
	LastWebhookSuccessAt time.Time
	WebhookURL           string
	WebhookSecret        string
	APIKeySecret         string // secret portion of the wss_<agentId>_<secret> live-session key
}

// Regime enumerates the macro market regime (spec §3).
type Regime string

const (
	RegimeBull   Regime = "bull"
	RegimeBear   Regime = "bear"
	RegimeCrash  Regime = "crash"
	RegimeBubble Regime = "bubble"
	RegimeNormal Regime = "normal"
)

// WorldState is the global simulation state (spec §3).
type WorldState struct {
	CurrentTick   int64
	MarketOpen    bool
	InterestRate  float64
	InflationRate float64
	GDPGrowth     float64
	Regime        Regime
	LastTickAt    time.Time
}

// NewsCategory enumerates the news categories spec §6 names.
type NewsCategory string

const (
	NewsEarnings   NewsCategory = "earnings"
	NewsMerger     NewsCategory = "merger"
	NewsScandal    NewsCategory = "scandal"
	NewsRegulatory NewsCategory = "regulatory"
	NewsMarket     NewsCategory = "market"
	NewsProduct    NewsCategory = "product"
	NewsAnalysis   NewsCategory = "analysis"
	NewsCrime      NewsCategory = "crime"
	NewsRumor      NewsCategory = "rumor"
	NewsCompany    NewsCategory = "company"
)

// NewsItem is a single news entry (spec §6).
type NewsItem struct {
	ID          string
	Tick        int64
	Headline    string
	Content     string
	Category    NewsCategory
	Sentiment   float64 // [-1, 1]
	AgentIDs    []string
	Symbols     []string
	CreatedAt   time.Time
	IsBreaking  bool
}

// Message is a direct message between two participants (spec §4.5 MESSAGE action).
type Message struct {
	ID        string
	FromID    string
	ToID      string
	Body      string
	CreatedAt time.Time
}

// AllianceStatus enumerates an alliance's tri-state lifecycle (spec §4.5).
type AllianceStatus string

const (
	AllianceProposed  AllianceStatus = "pending"
	AllianceActive    AllianceStatus = "active"
	AllianceDissolved AllianceStatus = "dissolved"
)

// Alliance is a tri-state alliance record between two agents (spec §4.5).
type Alliance struct {
	ID          string
	ProposerID  string
	TargetID    string
	Status      AllianceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InvestigationType enumerates investigation kinds (spec §4.5).
type InvestigationType string

const (
	InvestigationBribery          InvestigationType = "bribery"
	InvestigationWhistleblower    InvestigationType = "whistleblower_report"
)

// InvestigationStatus enumerates an investigation's lifecycle.
type InvestigationStatus string

const (
	InvestigationOpen      InvestigationStatus = "open"
	InvestigationConvicted InvestigationStatus = "convicted"
	InvestigationCleared   InvestigationStatus = "cleared"
)

// Investigation tracks a compliance investigation against a participant (spec §4.5).
type Investigation struct {
	ID          string
	Type        InvestigationType
	TargetID    string
	ReporterID  string // empty for BRIBE-triggered investigations
	Status      InvestigationStatus
	OpenedTick  int64
	ResolvedTick int64
	HasResolved bool
	Sentence    string
	CreatedAt   time.Time
}

// ActionLogEntry is one attempted action, valid or not (spec §4.5).
type ActionLogEntry struct {
	ID            string
	Tick          int64
	ParticipantID string
	Type          string
	Payload       map[string]interface{}
	ResultSnippet string
	Success       bool
	CreatedAt     time.Time
}
