package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankSource identifies the bank a statement was exported from
type BankSource string

const (
	BankTBC BankSource = "tbc"
	BankBOG BankSource = "bog"
)

// Valid reports whether the bank is one we can parse
func (b BankSource) Valid() bool {
	return b == BankTBC || b == BankBOG
}

// StatementStatus tracks a statement through processing
type StatementStatus string

const (
	StatementUploaded   StatementStatus = "uploaded"
	StatementProcessing StatementStatus = "processing"
	StatementProcessed  StatementStatus = "processed"
	StatementError      StatementStatus = "error"
)

// ProcessableStatuses are the states a statement may enter processing from
var ProcessableStatuses = []StatementStatus{StatementUploaded, StatementError}

// Statement is one uploaded bank export for a business, period and bank
type Statement struct {
	ID                string          `json:"id"`
	BusinessID        string          `json:"business_id"`
	Month             int             `json:"month"`
	Year              int             `json:"year"`
	BankSource        BankSource      `json:"bank_source"`
	FileReference     string          `json:"file_url"`
	FileName          string          `json:"file_name"`
	Status            StatementStatus `json:"status"`
	TotalTransactions *int            `json:"total_transactions,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TaxFigures is the result of running the tax engine over a statement
type TaxFigures struct {
	TotalIncome     decimal.Decimal `json:"total_income"`
	TotalExpenses   decimal.Decimal `json:"total_expenses"`
	Profit          decimal.Decimal `json:"profit"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	IncomeTaxAmount decimal.Decimal `json:"income_tax_amount"`
}
