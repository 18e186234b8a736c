package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/rs/zerolog"
	"github.com/schollz/closestmatch"
)

// FallbackConfidence is assigned when the oracle could not be used
const FallbackConfidence = 0.3

// OracleItem is one transaction as sent to the categorization oracle
type OracleItem struct {
	Index       int    `json:"index"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// Oracle categorizes a batch of transactions and returns the raw response
// text, expected to be a JSON array possibly wrapped in a code fence
type Oracle interface {
	Categorize(ctx context.Context, items []OracleItem) (string, error)
}

// oracleResult is the strict shape of one response element
type oracleResult struct {
	Index        *int     `json:"index"`
	Category     string   `json:"ai_category"`
	Confidence   *float64 `json:"ai_confidence"`
	TaxTreatment string   `json:"tax_treatment"`
}

// Classifier assigns a category, confidence and tax treatment to every
// transaction of a statement. It never fails: oracle problems degrade to
// a sign based fallback.
type Classifier struct {
	oracle  Oracle
	timeout time.Duration
	log     zerolog.Logger

	matchMu        sync.Mutex
	incomeMatcher  *closestmatch.ClosestMatch
	expenseMatcher *closestmatch.ClosestMatch
}

// NewClassifier creates a classifier. A nil oracle means every statement
// gets the fallback classification.
func NewClassifier(oracle Oracle, timeout time.Duration, log zerolog.Logger) *Classifier {
	return &Classifier{
		oracle:         oracle,
		timeout:        timeout,
		log:            log.With().Str("component", "classifier").Logger(),
		incomeMatcher:  closestmatch.New(models.IncomeCategories, []int{3, 4}),
		expenseMatcher: closestmatch.New(models.ExpenseCategories, []int{3, 4}),
	}
}

// Classify returns exactly one classified transaction per input, in order
func (c *Classifier) Classify(ctx context.Context, txns []models.RawTransaction) []models.ClassifiedTransaction {
	if len(txns) == 0 {
		return []models.ClassifiedTransaction{}
	}
	if c.oracle == nil {
		return fallbackClassification(txns)
	}

	items := make([]OracleItem, len(txns))
	for i, txn := range txns {
		items[i] = OracleItem{
			Index:       i,
			Date:        txn.Date.Format("2006-01-02"),
			Description: txn.Description,
			Amount:      txn.Amount.String(),
			Currency:    txn.Currency,
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := c.oracle.Categorize(callCtx, items)
	if err != nil {
		c.log.Warn().Err(err).Int("transactions", len(txns)).Msg("oracle unavailable, using fallback classification")
		return fallbackClassification(txns)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &elements); err != nil {
		c.log.Warn().Err(err).Int("transactions", len(txns)).Msg("oracle returned malformed payload, using fallback classification")
		return fallbackClassification(txns)
	}

	results := make([]models.ClassifiedTransaction, len(txns))
	assigned := make([]bool, len(txns))
	for i, txn := range txns {
		results[i] = uncategorized(txn)
	}

	rejected := 0
	for _, element := range elements {
		res, ok := c.decodeResult(element, len(txns))
		if !ok || assigned[*res.Index] {
			rejected++
			continue
		}
		idx := *res.Index
		results[idx].Category = models.CategoryLabel{AI: res.Category}
		results[idx].Confidence = *res.Confidence
		results[idx].TaxTreatment = models.TaxTreatment(res.TaxTreatment)
		assigned[idx] = true
	}

	c.log.Info().
		Int("transactions", len(txns)).
		Int("rejected_entries", rejected).
		Dur("duration", time.Since(start)).
		Msg("transactions classified")

	return results
}

// decodeResult validates one oracle entry against the closed vocabulary.
// The returned result has its category and tax treatment normalized.
func (c *Classifier) decodeResult(element json.RawMessage, n int) (oracleResult, bool) {
	var res oracleResult
	if err := json.Unmarshal(element, &res); err != nil {
		return res, false
	}

	if res.Index == nil || *res.Index < 0 || *res.Index >= n {
		return res, false
	}
	if res.Confidence == nil || *res.Confidence < 0 || *res.Confidence > 1 {
		return res, false
	}
	treatment, ok := models.ParseTaxTreatment(res.TaxTreatment)
	if !ok {
		return res, false
	}
	res.TaxTreatment = string(treatment)

	category, ok := c.normalizeCategory(res.Category)
	if !ok {
		return res, false
	}
	res.Category = category
	return res, true
}

// normalizeCategory maps an oracle label onto the vocabulary. Case slips
// are accepted everywhere; spelling slips only inside the income or expense
// group the label claims to belong to.
func (c *Classifier) normalizeCategory(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}

	for _, group := range [][]string{models.IncomeCategories, models.ExpenseCategories, models.NonTaxableCategories} {
		for _, known := range group {
			if strings.EqualFold(known, label) {
				return known, true
			}
		}
	}

	lower := strings.ToLower(label)
	var matcher *closestmatch.ClosestMatch
	switch {
	case strings.HasPrefix(lower, strings.ToLower(models.IncomePrefix)):
		matcher = c.incomeMatcher
	case strings.HasPrefix(lower, strings.ToLower(models.ExpensePrefix)):
		matcher = c.expenseMatcher
	default:
		return "", false
	}

	c.matchMu.Lock()
	match := matcher.Closest(label)
	c.matchMu.Unlock()
	if match != "" {
		return match, true
	}
	return "", false
}

func uncategorized(txn models.RawTransaction) models.ClassifiedTransaction {
	return models.ClassifiedTransaction{
		RawTransaction: txn,
		Category:       models.CategoryLabel{AI: models.CategoryUncategorized},
		Confidence:     0,
		TaxTreatment:   models.TaxTreatmentUnknown,
	}
}

// fallbackClassification labels each transaction by the sign of its amount
func fallbackClassification(txns []models.RawTransaction) []models.ClassifiedTransaction {
	results := make([]models.ClassifiedTransaction, len(txns))
	for i, txn := range txns {
		ct := models.ClassifiedTransaction{
			RawTransaction: txn,
			Confidence:     FallbackConfidence,
		}
		if txn.Amount.IsPositive() {
			ct.Category = models.CategoryLabel{AI: models.CategoryIncomeOther}
			ct.TaxTreatment = models.TaxTreatmentTaxableIncome
		} else {
			ct.Category = models.CategoryLabel{AI: models.CategoryExpenseOther}
			ct.TaxTreatment = models.TaxTreatmentDeductibleExpense
		}
		results[i] = ct
	}
	return results
}

// cleanModelJSON strips markdown fences and surrounding chatter so only
// the JSON array remains
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the opening fence line (``` or ```json)
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// buildCategorizationPrompt renders the oracle instructions for a batch
func buildCategorizationPrompt(items []OracleItem) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal oracle items: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are an accountant for a small Georgian business. ")
	b.WriteString("Categorize each bank transaction below for Georgian tax purposes.\n\n")

	b.WriteString("Income categories:\n")
	for _, c := range models.IncomeCategories {
		b.WriteString("- " + c + "\n")
	}
	b.WriteString("\nExpense categories:\n")
	for _, c := range models.ExpenseCategories {
		b.WriteString("- " + c + "\n")
	}
	b.WriteString("\nNon-taxable:\n")
	for _, c := range models.NonTaxableCategories {
		b.WriteString("- " + c + "\n")
	}

	b.WriteString("\nTax treatment must be one of: taxable_income, deductible_expense, exempt, non_taxable, unknown.\n")
	b.WriteString("Positive amounts are money received, negative amounts are money paid.\n\n")
	b.WriteString("Transactions:\n")
	b.Write(payload)
	b.WriteString("\n\nReturn ONLY a JSON array with one object per transaction:\n")
	b.WriteString(`[{"index": 0, "ai_category": "Income - Services", "ai_confidence": 0.95, "tax_treatment": "taxable_income"}]`)
	b.WriteString("\nUse the category names exactly as listed. Do NOT wrap the response in code fences.\n")

	return b.String(), nil
}
