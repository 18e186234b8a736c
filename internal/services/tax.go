package services

import (
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/shopspring/decimal"
)

// ComputeTaxes derives VAT and income tax liabilities from classified
// transactions. It reads only the effective category and is total: every
// input yields non-negative figures.
func ComputeTaxes(txns []models.ClassifiedTransaction) models.TaxFigures {
	income := decimal.Zero
	expenses := decimal.Zero

	for _, txn := range txns {
		switch {
		case txn.Category.IsIncome() && txn.Amount.IsPositive():
			income = income.Add(txn.Amount)
		case txn.Category.IsExpense() && txn.Amount.IsNegative():
			expenses = expenses.Add(txn.Amount.Abs())
		}
	}

	profit := income.Sub(expenses)
	incomeTax := decimal.Zero
	if profit.IsPositive() {
		incomeTax = profit.Mul(models.IncomeTaxRate).Round(2)
	}

	return models.TaxFigures{
		TotalIncome:     income,
		TotalExpenses:   expenses,
		Profit:          profit,
		VATAmount:       income.Mul(models.VATRate).Round(2),
		IncomeTaxAmount: incomeTax,
	}
}

// BucketSummary groups a statement's transactions the way the review
// screen shows them
type BucketSummary struct {
	IncomeCount  int             `json:"income_count"`
	ExpenseCount int             `json:"expense_count"`
	OtherCount   int             `json:"other_count"`
	OtherTotal   decimal.Decimal `json:"other_total"`
	ByCategory   map[string]int  `json:"by_category"`
}

// SummarizeBuckets counts transactions per bucket. Anything that is neither
// income nor expense lands in "other" and never contributes to tax.
func SummarizeBuckets(txns []models.ClassifiedTransaction) BucketSummary {
	summary := BucketSummary{
		OtherTotal: decimal.Zero,
		ByCategory: make(map[string]int),
	}

	for _, txn := range txns {
		summary.ByCategory[txn.Category.Effective()]++
		switch {
		case txn.Category.IsIncome():
			summary.IncomeCount++
		case txn.Category.IsExpense():
			summary.ExpenseCount++
		default:
			summary.OtherCount++
			summary.OtherTotal = summary.OtherTotal.Add(txn.Amount)
		}
	}

	return summary
}

// BuildDraftDeclarations turns tax figures into draft declarations. Only
// figures strictly greater than zero produce a declaration.
func BuildDraftDeclarations(stmt *models.Statement, figures models.TaxFigures, txnCount int) []models.Declaration {
	var drafts []models.Declaration

	if figures.VATAmount.IsPositive() {
		drafts = append(drafts, models.Declaration{
			BusinessID:  stmt.BusinessID,
			StatementID: stmt.ID,
			Type:        models.DeclarationVAT,
			Month:       stmt.Month,
			Year:        stmt.Year,
			TaxAmount:   figures.VATAmount,
			Status:      models.DeclarationDraft,
			Data: models.DeclarationData{
				TotalIncome:      figures.TotalIncome,
				Rate:             models.VATRate,
				TaxAmount:        figures.VATAmount,
				TransactionCount: txnCount,
			},
		})
	}

	if figures.IncomeTaxAmount.IsPositive() {
		expenses := figures.TotalExpenses
		profit := figures.Profit
		drafts = append(drafts, models.Declaration{
			BusinessID:  stmt.BusinessID,
			StatementID: stmt.ID,
			Type:        models.DeclarationIncomeTax,
			Month:       stmt.Month,
			Year:        stmt.Year,
			TaxAmount:   figures.IncomeTaxAmount,
			Status:      models.DeclarationDraft,
			Data: models.DeclarationData{
				TotalIncome:      figures.TotalIncome,
				TotalExpenses:    &expenses,
				Profit:           &profit,
				Rate:             models.IncomeTaxRate,
				TaxAmount:        figures.IncomeTaxAmount,
				TransactionCount: txnCount,
			},
		})
	}

	return drafts
}
