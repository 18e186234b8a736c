package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOracle is a mock implementation of Oracle for testing
type MockOracle struct {
	CategorizeFunc func(ctx context.Context, items []OracleItem) (string, error)
	calls          int
}

func (m *MockOracle) Categorize(ctx context.Context, items []OracleItem) (string, error) {
	m.calls++
	if m.CategorizeFunc != nil {
		return m.CategorizeFunc(ctx, items)
	}
	return "", errors.New("oracle not configured")
}

func rawTxn(amount, description string) models.RawTransaction {
	return models.RawTransaction{
		Date:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Currency:    models.DefaultCurrency,
	}
}

func assertTotal(t *testing.T, in []models.RawTransaction, out []models.ClassifiedTransaction) {
	t.Helper()
	require.Len(t, out, len(in))
	for i, ct := range out {
		assert.NotEmpty(t, ct.Category.Effective())
		assert.GreaterOrEqual(t, ct.Confidence, 0.0)
		assert.LessOrEqual(t, ct.Confidence, 1.0)
		assert.True(t, ct.TaxTreatment.Valid())
		assert.Equal(t, in[i].Amount.String(), ct.Amount.String())
	}
}

func TestClassify_MapsByIndex(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			require.Len(t, items, 2)
			assert.Equal(t, "2024-01-10", items[0].Date)
			assert.Equal(t, "-400", items[1].Amount)
			// deliberately out of order
			return `[
				{"index": 1, "ai_category": "Expense - Rent", "ai_confidence": 0.8, "tax_treatment": "deductible_expense"},
				{"index": 0, "ai_category": "Income - Services", "ai_confidence": 0.95, "tax_treatment": "taxable_income"}
			]`, nil
		},
	}
	txns := []models.RawTransaction{rawTxn("1000", "Consulting"), rawTxn("-400", "Office rent")}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), txns)

	assertTotal(t, txns, out)
	assert.Equal(t, models.CategoryIncomeServices, out[0].Category.AI)
	assert.Equal(t, 0.95, out[0].Confidence)
	assert.Equal(t, models.TaxTreatmentTaxableIncome, out[0].TaxTreatment)
	assert.Equal(t, models.CategoryExpenseRent, out[1].Category.AI)
	assert.Nil(t, out[1].Category.Override)
}

func TestClassify_StripsCodeFence(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return "Here you go:\n```json\n[{\"index\": 0, \"ai_category\": \"Loan Repayment\", \"ai_confidence\": 0.7, \"tax_treatment\": \"non_taxable\"}]\n```", nil
		},
	}
	txns := []models.RawTransaction{rawTxn("-300", "Loan")}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), txns)

	assertTotal(t, txns, out)
	assert.Equal(t, models.CategoryLoanRepayment, out[0].Category.AI)
	assert.Equal(t, models.TaxTreatmentNonTaxable, out[0].TaxTreatment)
}

func TestClassify_InvalidEntriesBecomeUncategorized(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return `[
				{"index": 0, "ai_category": "Income - Services", "ai_confidence": 1.7, "tax_treatment": "taxable_income"},
				{"index": 1, "ai_category": "Crypto Gains", "ai_confidence": 0.9, "tax_treatment": "taxable_income"},
				{"index": 2, "ai_category": "Income - Services", "ai_confidence": 0.9, "tax_treatment": "maybe"},
				{"index": 9, "ai_category": "Income - Services", "ai_confidence": 0.9, "tax_treatment": "taxable_income"},
				{"ai_category": "Income - Services", "ai_confidence": 0.9, "tax_treatment": "taxable_income"},
				"not an object",
				{"index": 3, "ai_category": "Income - Interest", "ai_confidence": 0.6, "tax_treatment": "taxable_income"},
				{"index": 3, "ai_category": "Expense - Other", "ai_confidence": 0.6, "tax_treatment": "deductible_expense"}
			]`, nil
		},
	}
	txns := []models.RawTransaction{
		rawTxn("10", "a"), rawTxn("20", "b"), rawTxn("30", "c"), rawTxn("40", "d"), rawTxn("50", "e"),
	}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), txns)

	assertTotal(t, txns, out)
	for _, i := range []int{0, 1, 2, 4} {
		assert.Equal(t, models.CategoryUncategorized, out[i].Category.AI, "entry %d", i)
		assert.Equal(t, 0.0, out[i].Confidence)
		assert.Equal(t, models.TaxTreatmentUnknown, out[i].TaxTreatment)
	}
	// first valid entry for an index wins
	assert.Equal(t, models.CategoryIncomeInterest, out[3].Category.AI)
}

func TestClassify_SnapsNearMissLabels(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return `[
				{"index": 0, "ai_category": "income - services", "ai_confidence": 0.9, "tax_treatment": "taxable_income"},
				{"index": 1, "ai_category": "Expense - Utilites", "ai_confidence": 0.9, "tax_treatment": "deductible_expense"},
				{"index": 2, "ai_category": "internal transfer", "ai_confidence": 0.9, "tax_treatment": "non_taxable"}
			]`, nil
		},
	}
	txns := []models.RawTransaction{rawTxn("10", "a"), rawTxn("-20", "b"), rawTxn("-30", "c")}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), txns)

	assert.Equal(t, models.CategoryIncomeServices, out[0].Category.AI)
	assert.Equal(t, models.CategoryExpenseUtilities, out[1].Category.AI)
	assert.Equal(t, models.CategoryInternalTransfer, out[2].Category.AI)
}

func TestParseTaxTreatment(t *testing.T) {
	tests := []struct {
		in     string
		want   models.TaxTreatment
		wantOK bool
	}{
		{in: "taxable_income", want: models.TaxTreatmentTaxableIncome, wantOK: true},
		{in: "taxable income", want: models.TaxTreatmentTaxableIncome, wantOK: true},
		{in: " Taxable Income ", want: models.TaxTreatmentTaxableIncome, wantOK: true},
		{in: "non-taxable", want: models.TaxTreatmentNonTaxable, wantOK: true},
		{in: "Non-Taxable", want: models.TaxTreatmentNonTaxable, wantOK: true},
		{in: "deductible-expense", want: models.TaxTreatmentDeductibleExpense, wantOK: true},
		{in: "EXEMPT", want: models.TaxTreatmentExempt, wantOK: true},
		{in: "maybe", wantOK: false},
		{in: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := models.ParseTaxTreatment(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassify_AcceptsSpelledOutTreatments(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return `[
				{"index": 0, "ai_category": "Income - Services", "ai_confidence": 0.9, "tax_treatment": "taxable income"},
				{"index": 1, "ai_category": "Internal Transfer", "ai_confidence": 0.9, "tax_treatment": "Non-Taxable"}
			]`, nil
		},
	}
	txns := []models.RawTransaction{rawTxn("1000", "consulting"), rawTxn("-200", "own account")}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), txns)

	assertTotal(t, txns, out)
	assert.Equal(t, models.CategoryIncomeServices, out[0].Category.AI)
	assert.Equal(t, models.TaxTreatmentTaxableIncome, out[0].TaxTreatment)
	assert.Equal(t, models.CategoryInternalTransfer, out[1].Category.AI)
	assert.Equal(t, models.TaxTreatmentNonTaxable, out[1].TaxTreatment)

	figures := ComputeTaxes(out)
	assert.Equal(t, "180", figures.VATAmount.String())
}

func TestClassify_FallbackWhenOracleFails(t *testing.T) {
	tests := []struct {
		name   string
		oracle Oracle
	}{
		{
			name: "transport error",
			oracle: &MockOracle{CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
				return "", errors.New("connection refused")
			}},
		},
		{
			name: "not json",
			oracle: &MockOracle{CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
				return "I cannot help with that", nil
			}},
		},
		{
			name: "object instead of array",
			oracle: &MockOracle{CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
				return `{"index": 0}`, nil
			}},
		},
		{
			name: "timeout",
			oracle: &MockOracle{CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
		},
		{
			name:   "no oracle configured",
			oracle: nil,
		},
	}

	txns := []models.RawTransaction{rawTxn("1000", "in"), rawTxn("-400", "out"), rawTxn("0", "zero")}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewClassifier(tt.oracle, 20*time.Millisecond, zerolog.Nop()).Classify(context.Background(), txns)

			assertTotal(t, txns, out)
			assert.Equal(t, models.CategoryIncomeOther, out[0].Category.AI)
			assert.Equal(t, models.TaxTreatmentTaxableIncome, out[0].TaxTreatment)
			assert.Equal(t, models.CategoryExpenseOther, out[1].Category.AI)
			assert.Equal(t, models.TaxTreatmentDeductibleExpense, out[1].TaxTreatment)
			assert.Equal(t, models.CategoryExpenseOther, out[2].Category.AI)
			for _, ct := range out {
				assert.Equal(t, FallbackConfidence, ct.Confidence)
			}
		})
	}
}

func TestClassify_EmptyInputSkipsOracle(t *testing.T) {
	oracle := &MockOracle{}

	out := NewClassifier(oracle, time.Second, zerolog.Nop()).Classify(context.Background(), nil)

	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, 0, oracle.calls)
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: `[{"index":0}]`, want: `[{"index":0}]`},
		{name: "json fence", raw: "```json\n[1,2]\n```", want: "[1,2]"},
		{name: "bare fence", raw: "```\n[1]\n```\n", want: "[1]"},
		{name: "chatter", raw: "Sure! [1, 2] hope this helps", want: "[1, 2]"},
		{name: "no array", raw: "nothing", want: "nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.raw))
		})
	}
}

func TestBuildCategorizationPrompt(t *testing.T) {
	prompt, err := buildCategorizationPrompt([]OracleItem{
		{Index: 0, Date: "2024-01-10", Description: "Consulting", Amount: "1000", Currency: "GEL"},
	})
	require.NoError(t, err)

	for _, c := range append(append(models.IncomeCategories, models.ExpenseCategories...), models.NonTaxableCategories...) {
		assert.Contains(t, prompt, c)
	}
	assert.Contains(t, prompt, `"description":"Consulting"`)
	assert.True(t, strings.Contains(prompt, "tax_treatment"))
}
