// Package models defines the core data structures shared across partsbot.
package models

import (
	"time"
)

// Constants for request and quote handling
const (
	// DefaultMarkup is the retail markup applied over supplier cost.
	DefaultMarkup = 0.35
	// MaxOptions is the maximum number of options presented per request.
	MaxOptions = 3
	// UnpricedSortCost is the sort key used for supplier results without a cost.
	UnpricedSortCost = 999.0
)

// Inbound is a message received from any sender over the chat transport.
type Inbound struct {
	From      string    `json:"from"`                 // canonical sender number (digits only)
	Text      string    `json:"text"`                 // trimmed message body
	MediaURL  string    `json:"media_url,omitempty"`  // first attached media, if any
	ReplyToID string    `json:"reply_to_id,omitempty"` // transport ID of the message being replied to
	MessageID string    `json:"message_id,omitempty"` // transport ID of this message, used for dedup
	Time      time.Time `json:"time"`
}

// HasImage reports whether the message carries an image and no text.
func (in Inbound) HasImage() bool {
	return in.MediaURL != "" && in.Text == ""
}

// Option is one priced, supplier-attributed offer for a RequestItem.
type Option struct {
	Label          string  `json:"label"`
	SupplierName   string  `json:"supplier_name"`
	Cost           float64 `json:"cost"`
	SuggestedPrice float64 `json:"suggested_price"`
	Margin         float64 `json:"margin"`
	LeadTime       string  `json:"lead_time"`
	Source         string  `json:"source"`
	Notes          string  `json:"notes,omitempty"`
}

// SupplierResult is a raw answer from one supplier source.
// Cost is nil when the supplier did not quote a price.
type SupplierResult struct {
	SupplierName string   `json:"supplier_name"`
	Cost         *float64 `json:"cost,omitempty"`
	LeadTime     string   `json:"lead_time"`
	Source       string   `json:"source"`
	Notes        string   `json:"notes,omitempty"`
	PartNumber   string   `json:"part_number,omitempty"`
}

// SortCost returns the cost used for ranking; unpriced results sort last.
func (r SupplierResult) SortCost() float64 {
	if r.Cost == nil {
		return UnpricedSortCost
	}
	return *r.Cost
}

// CostOrZero returns the quoted cost or zero when unpriced.
func (r SupplierResult) CostOrZero() float64 {
	if r.Cost == nil {
		return 0
	}
	return *r.Cost
}

// Price returns a pointer to v, for building priced results.
func Price(v float64) *float64 {
	return &v
}

// ApprovalStatus is the lifecycle status of a PendingApproval.
type ApprovalStatus string

const (
	// ApprovalStatusAwaiting indicates the owner has not set final prices yet.
	ApprovalStatusAwaiting ApprovalStatus = "awaiting_approval"
)

// PendingApproval is a sourced request awaiting the owner's final retail pricing.
type PendingApproval struct {
	ID             string         `json:"id"`
	Customer       string         `json:"customer"`
	Raw            string         `json:"raw"`
	Item           RequestItem    `json:"item"`
	Options        []Option       `json:"options"`
	Status         ApprovalStatus `json:"status"`
	OwnerMessageID string         `json:"owner_message_id,omitempty"`
	SourcingStart  time.Time      `json:"sourcing_start"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PendingSelection is an approved quote awaiting the customer's choice.
// FinalPrices is index-aligned with Options.
type PendingSelection struct {
	ApprovalID  string      `json:"approval_id"`
	Customer    string      `json:"customer"`
	Item        RequestItem `json:"item"`
	Options     []Option    `json:"options"`
	FinalPrices []float64   `json:"final_prices"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuditStatus tags an audit log entry.
type AuditStatus string

const (
	AuditReceived        AuditStatus = "received"
	AuditPendingApproval AuditStatus = "pending_approval"
	AuditNotFound        AuditStatus = "not_found"
	AuditQuoted          AuditStatus = "quoted"
	AuditConfirmed       AuditStatus = "confirmed"
)

// AuditEntry is one append-only transaction record.
// Chosen is the 1-based option index, zero when no choice was made.
type AuditEntry struct {
	Timestamp   time.Time   `json:"timestamp"`
	Customer    string      `json:"customer"`
	Raw         string      `json:"raw"`
	Item        RequestItem `json:"item"`
	Options     []Option    `json:"options,omitempty"`
	FinalPrices []float64   `json:"final_prices,omitempty"`
	Chosen      int         `json:"chosen,omitempty"`
	Status      AuditStatus `json:"status"`
}

// DailyStats are the tallies reported on the status surface and in the daily summary.
type DailyStats struct {
	Date             string    `json:"date"`
	Conversations    int       `json:"conversations"`
	QuotesSent       int       `json:"quotes_sent"`
	OrdersConfirmed  int       `json:"orders_confirmed"`
	PartsNotFound    int       `json:"parts_not_found"`
	Errors           int       `json:"errors"`
	QuoteTimeMinutes []float64 `json:"quote_time_minutes,omitempty"`
}

// AverageQuoteMinutes returns the mean time from sourcing start to quote, or -1 when unknown.
func (s DailyStats) AverageQuoteMinutes() float64 {
	if len(s.QuoteTimeMinutes) == 0 {
		return -1
	}
	var sum float64
	for _, m := range s.QuoteTimeMinutes {
		sum += m
	}
	return sum / float64(len(s.QuoteTimeMinutes))
}

// Status is the read-only snapshot exposed by the status surface.
type Status struct {
	ActiveConversations int        `json:"active_conversations"`
	PendingApprovals    int        `json:"pending_approvals"`
	PendingSelections   int        `json:"pending_selections"`
	LiveSessions        int        `json:"live_sessions"`
	Today               DailyStats `json:"today"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
