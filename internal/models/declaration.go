package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeclarationType is the kind of tax filing
type DeclarationType string

const (
	DeclarationVAT       DeclarationType = "vat"
	DeclarationIncomeTax DeclarationType = "income_tax"
)

// AuthorityCode is the declaration type name the tax authority expects
func (t DeclarationType) AuthorityCode() string {
	switch t {
	case DeclarationVAT:
		return "VAT"
	case DeclarationIncomeTax:
		return "INCOME_TAX"
	}
	return string(t)
}

// DisplayName is used in notifications and emails
func (t DeclarationType) DisplayName() string {
	switch t {
	case DeclarationVAT:
		return "VAT"
	case DeclarationIncomeTax:
		return "Income Tax"
	}
	return string(t)
}

// DeclarationStatus tracks a declaration through submission
type DeclarationStatus string

const (
	DeclarationDraft     DeclarationStatus = "draft"
	DeclarationSubmitted DeclarationStatus = "submitted"
	DeclarationAccepted  DeclarationStatus = "accepted"
	DeclarationRejected  DeclarationStatus = "rejected"
)

// Statutory rates
var (
	VATRate       = decimal.RequireFromString("0.18")
	IncomeTaxRate = decimal.RequireFromString("0.15")
)

// DeclarationData is the audit breakdown stored with each declaration.
// Expenses and profit are only recorded for income tax filings.
type DeclarationData struct {
	TotalIncome      decimal.Decimal  `json:"total_income"`
	TotalExpenses    *decimal.Decimal `json:"total_expenses,omitempty"`
	Profit           *decimal.Decimal `json:"profit,omitempty"`
	Rate             decimal.Decimal  `json:"rate"`
	TaxAmount        decimal.Decimal  `json:"tax_amount"`
	TransactionCount int              `json:"transaction_count"`
}

// Declaration is one tax filing derived from a statement
type Declaration struct {
	ID               string            `json:"id"`
	BusinessID       string            `json:"business_id"`
	StatementID      string            `json:"statement_id"`
	Type             DeclarationType   `json:"declaration_type"`
	Month            int               `json:"period_month"`
	Year             int               `json:"period_year"`
	TaxAmount        decimal.Decimal   `json:"tax_amount"`
	Data             DeclarationData   `json:"declaration_data"`
	Status           DeclarationStatus `json:"status"`
	RSGeConfirmation *string           `json:"rsge_confirmation,omitempty"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
	Notes            *string           `json:"notes,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`

	// SubmissionStartedAt is set while a filing with the authority is in
	// flight. The draft is frozen until it clears or the claim goes stale.
	SubmissionStartedAt *time.Time `json:"submission_started_at,omitempty"`
}

// IsDraft reports whether the declaration can still be edited or submitted
func (d *Declaration) IsDraft() bool {
	return d.Status == DeclarationDraft
}

// SubmissionClaimTTL bounds how long a submission claim freezes a draft.
// It outlasts a gateway call including its re-authentication retry, so only
// a claim left behind by a crashed process goes stale.
const SubmissionClaimTTL = 5 * time.Minute

// SubmissionPending reports whether a live submission claim freezes the draft
func (d *Declaration) SubmissionPending(now time.Time) bool {
	return d.SubmissionStartedAt != nil && now.Sub(*d.SubmissionStartedAt) < SubmissionClaimTTL
}

// SubmissionRecord is what the authority accepted for a claimed draft
type SubmissionRecord struct {
	ClaimedAt    time.Time
	TaxAmount    decimal.Decimal
	Confirmation string
	SubmittedAt  time.Time
}

// DeclarationUpdate holds the fields a reviewer may change on a draft.
// Nil fields are left untouched.
type DeclarationUpdate struct {
	TaxAmount *decimal.Decimal `json:"tax_amount,omitempty"`
	Notes     *string          `json:"notes,omitempty"`
}
