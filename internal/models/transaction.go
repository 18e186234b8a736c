package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a statement has no currency column
const DefaultCurrency = "GEL"

// Category prefixes used by the tax engine to bucket transactions
const (
	IncomePrefix  = "Income -"
	ExpensePrefix = "Expense -"
)

// Closed category vocabulary offered to the categorization oracle
const (
	CategoryIncomeServices     = "Income - Services"
	CategoryIncomeProductSales = "Income - Product Sales"
	CategoryIncomeInterest     = "Income - Interest"
	CategoryIncomeRental       = "Income - Rental"
	CategoryIncomeOther        = "Income - Other"

	CategoryExpenseSupplies  = "Expense - Supplies"
	CategoryExpenseRent      = "Expense - Rent"
	CategoryExpenseUtilities = "Expense - Utilities"
	CategoryExpenseSalaries  = "Expense - Salaries"
	CategoryExpenseSoftware  = "Expense - Software"
	CategoryExpenseMarketing = "Expense - Marketing"
	CategoryExpenseTravel    = "Expense - Travel"
	CategoryExpenseOther     = "Expense - Other"

	CategoryInternalTransfer = "Internal Transfer"
	CategoryLoanRepayment    = "Loan Repayment"

	CategoryUncategorized = "Uncategorized"
)

// IncomeCategories lists every income label in prompt order
var IncomeCategories = []string{
	CategoryIncomeServices,
	CategoryIncomeProductSales,
	CategoryIncomeInterest,
	CategoryIncomeRental,
	CategoryIncomeOther,
}

// ExpenseCategories lists every expense label in prompt order
var ExpenseCategories = []string{
	CategoryExpenseSupplies,
	CategoryExpenseRent,
	CategoryExpenseUtilities,
	CategoryExpenseSalaries,
	CategoryExpenseSoftware,
	CategoryExpenseMarketing,
	CategoryExpenseTravel,
	CategoryExpenseOther,
}

// NonTaxableCategories are movements that never count towards tax
var NonTaxableCategories = []string{
	CategoryInternalTransfer,
	CategoryLoanRepayment,
}

// IsKnownCategory reports whether label belongs to the closed vocabulary
func IsKnownCategory(label string) bool {
	if label == CategoryUncategorized {
		return true
	}
	for _, group := range [][]string{IncomeCategories, ExpenseCategories, NonTaxableCategories} {
		for _, c := range group {
			if c == label {
				return true
			}
		}
	}
	return false
}

// TaxTreatment is the statutory treatment assigned to a transaction
type TaxTreatment string

const (
	TaxTreatmentTaxableIncome     TaxTreatment = "taxable_income"
	TaxTreatmentDeductibleExpense TaxTreatment = "deductible_expense"
	TaxTreatmentExempt            TaxTreatment = "exempt"
	TaxTreatmentNonTaxable        TaxTreatment = "non_taxable"
	TaxTreatmentUnknown           TaxTreatment = "unknown"
)

// Valid reports whether t is one of the closed set of treatments
func (t TaxTreatment) Valid() bool {
	switch t {
	case TaxTreatmentTaxableIncome, TaxTreatmentDeductibleExpense, TaxTreatmentExempt,
		TaxTreatmentNonTaxable, TaxTreatmentUnknown:
		return true
	}
	return false
}

// ParseTaxTreatment maps free-form spellings such as "Taxable income" or
// "non-taxable" onto the closed set of treatments
func ParseTaxTreatment(s string) (TaxTreatment, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	}), "_")
	t := TaxTreatment(s)
	return t, t.Valid()
}

// RawTransaction is a single row extracted from a bank statement.
// Positive amounts are money in, negative amounts are money out.
type RawTransaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// CategoryLabel keeps the oracle's label and an optional human override.
// Everything except audit views must read the label through Effective.
type CategoryLabel struct {
	AI       string  `json:"ai_category"`
	Override *string `json:"final_category,omitempty"`
}

// Effective returns the override when set, otherwise the oracle label
func (l CategoryLabel) Effective() string {
	if l.Override != nil && *l.Override != "" {
		return *l.Override
	}
	return l.AI
}

// IsIncome reports whether the effective label falls in the income bucket
func (l CategoryLabel) IsIncome() bool {
	return strings.HasPrefix(l.Effective(), IncomePrefix)
}

// IsExpense reports whether the effective label falls in the expense bucket
func (l CategoryLabel) IsExpense() bool {
	return strings.HasPrefix(l.Effective(), ExpensePrefix)
}

// ClassifiedTransaction is a RawTransaction enriched by the classifier
type ClassifiedTransaction struct {
	ID          string `json:"id"`
	StatementID string `json:"statement_id"`
	RawTransaction
	Category     CategoryLabel `json:"category"`
	Confidence   float64       `json:"ai_confidence"`
	TaxTreatment TaxTreatment  `json:"tax_treatment"`
	CreatedAt    time.Time     `json:"created_at"`
}
