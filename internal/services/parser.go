package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/rs/zerolog"
	"github.com/shakinm/xlsReader/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// headerSearchRows is how many leading rows may precede the header
const headerSearchRows = 5

// Formats the parser attempts, in order
var supportedFormats = []string{"xlsx", "xls", "csv"}

// BankDialect describes how a bank lays out its statement export
type BankDialect struct {
	Name              string
	DateTokens        []string
	AmountTokens      []string
	DescriptionTokens []string
	CurrencyTokens    []string
	DefaultCurrency   string
	DateLayouts       []string
}

// tbcDialect is the baseline layout shared by Georgian bank exports
var tbcDialect = BankDialect{
	Name:              "TBC",
	DateTokens:        []string{"date", "თარიღი"},
	AmountTokens:      []string{"amount", "თანხა"},
	DescriptionTokens: []string{"description", "დანიშნულება"},
	CurrencyTokens:    []string{"currency", "ვალუტა"},
	DefaultCurrency:   models.DefaultCurrency,
	DateLayouts:       []string{"2.1.2006", "2006-01-02"},
}

// bogDialect delegates to the TBC layout. BOG exports are identical today;
// diverging rules belong here once a real difference shows up.
func bogDialect() BankDialect {
	d := tbcDialect
	d.Name = "BOG"
	return d
}

// StatementParser converts raw statement files into transactions
type StatementParser struct {
	dialects map[models.BankSource]BankDialect
	log      zerolog.Logger
}

// NewStatementParser creates a parser with the supported bank dialects
func NewStatementParser(log zerolog.Logger) *StatementParser {
	return &StatementParser{
		dialects: map[models.BankSource]BankDialect{
			models.BankTBC: tbcDialect,
			models.BankBOG: bogDialect(),
		},
		log: log.With().Str("component", "parser").Logger(),
	}
}

// Parse reads a workbook or delimited text file and returns its
// transactions in source order
func (p *StatementParser) Parse(data []byte, bank models.BankSource) ([]models.RawTransaction, error) {
	dialect, ok := p.dialects[bank]
	if !ok {
		return nil, &ParseError{Reason: fmt.Sprintf("unsupported bank source: %q", bank)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "empty file"}
	}

	rows, format, err := readRows(data)
	if err != nil {
		return nil, err
	}

	txns, err := p.parseRows(rows, dialect)
	if err != nil {
		return nil, err
	}

	p.log.Debug().
		Str("bank", dialect.Name).
		Str("format", format).
		Int("rows", len(rows)).
		Int("transactions", len(txns)).
		Msg("statement parsed")

	return txns, nil
}

// readRows tries each supported format and returns the first sheet's rows
func readRows(data []byte) ([][]string, string, error) {
	// 1. Modern workbook
	if bytes.HasPrefix(data, zipMagic) {
		if rows, err := readXLSX(data); err == nil {
			return rows, "xlsx", nil
		}
	}

	// 2. Legacy workbook
	if bytes.HasPrefix(data, ole2Magic) {
		if rows, err := readXLS(data); err == nil {
			return rows, "xls", nil
		}
	}

	// 3. Delimited text
	if !bytes.HasPrefix(data, zipMagic) && !bytes.HasPrefix(data, ole2Magic) && utf8.Valid(data) {
		if rows, err := readDelimited(data); err == nil && len(rows) > 0 {
			return rows, "csv", nil
		}
	}

	return nil, "", &ParseError{Reason: "unsupported or corrupt file", Formats: supportedFormats}
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	// Raw values keep date cells as serial numbers instead of locale strings
	return f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
}

func readXLS(data []byte) (rows [][]string, err error) {
	// xlsReader indexes into the compound file without bounds checks
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("corrupt xls file: %v", r)
		}
	}()

	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(workbook.GetSheets()) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, err
	}

	for _, row := range sheet.GetRows() {
		var cells []string
		for _, cell := range row.GetCols() {
			cells = append(cells, cell.GetString())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readDelimited(data []byte) ([][]string, error) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.Comma = sniffDelimiter(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	return reader.ReadAll()
}

// sniffDelimiter picks the most frequent candidate in the header window
func sniffDelimiter(data []byte) rune {
	lines := strings.SplitN(string(data), "\n", headerSearchRows+1)
	if len(lines) > headerSearchRows {
		lines = lines[:headerSearchRows]
	}
	window := strings.Join(lines, "\n")

	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t'} {
		if n := strings.Count(window, string(candidate)); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best
}

// columnMap holds the resolved column positions, -1 when absent
type columnMap struct {
	date, amount, description, currency int
}

func (p *StatementParser) parseRows(rows [][]string, dialect BankDialect) ([]models.RawTransaction, error) {
	headerIdx, cols, ok := findHeader(rows, dialect)
	if !ok {
		return nil, &ParseError{Reason: "no header found"}
	}

	transactions := []models.RawTransaction{}
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		txn, err := parseRow(row, cols, dialect)
		if err != nil {
			p.log.Debug().Int("row", i+1).Err(err).Msg("skipping row")
			continue
		}
		transactions = append(transactions, txn)
	}

	return transactions, nil
}

// findHeader locates the first row within the search window that names
// both a date and an amount column
func findHeader(rows [][]string, dialect BankDialect) (int, columnMap, bool) {
	limit := headerSearchRows
	if len(rows) < limit {
		limit = len(rows)
	}

	for i := 0; i < limit; i++ {
		cols := columnMap{
			date:        findColumn(rows[i], dialect.DateTokens),
			amount:      findColumn(rows[i], dialect.AmountTokens),
			description: findColumn(rows[i], dialect.DescriptionTokens),
			currency:    findColumn(rows[i], dialect.CurrencyTokens),
		}
		if cols.date >= 0 && cols.amount >= 0 {
			return i, cols, true
		}
	}
	return -1, columnMap{}, false
}

// normalizeHeader folds case and composes Unicode so "Amount", "AMOUNT"
// and decomposed Georgian forms compare equal
func normalizeHeader(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

func findColumn(header []string, tokens []string) int {
	for i, cell := range header {
		normalized := normalizeHeader(cell)
		for _, token := range tokens {
			if strings.Contains(normalized, normalizeHeader(token)) {
				return i
			}
		}
	}
	return -1
}

func parseRow(row []string, cols columnMap, dialect BankDialect) (models.RawTransaction, error) {
	var txn models.RawTransaction

	dateStr := cellAt(row, cols.date)
	amountStr := cellAt(row, cols.amount)
	if dateStr == "" || amountStr == "" {
		return txn, fmt.Errorf("missing date or amount")
	}

	date, err := ParseDate(dateStr, dialect.DateLayouts)
	if err != nil {
		return txn, err
	}

	amount, err := ParseAmount(amountStr)
	if err != nil {
		return txn, err
	}

	currency := strings.ToUpper(cellAt(row, cols.currency))
	if currency == "" {
		currency = dialect.DefaultCurrency
	}

	txn.Date = date
	txn.Amount = amount
	txn.Description = cellAt(row, cols.description)
	txn.Currency = currency
	return txn, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// ParseDate accepts spreadsheet serial numbers and the dialect's textual
// layouts. ISO values may carry a time suffix which is ignored.
func ParseDate(value string, layouts []string) (time.Time, error) {
	value = strings.TrimSpace(value)

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if serial <= 0 {
			return time.Time{}, fmt.Errorf("invalid date serial: %s", value)
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date serial: %s", value)
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	for _, layout := range layouts {
		candidate := value
		if layout == "2006-01-02" && len(candidate) > len(layout) {
			candidate = candidate[:len(layout)]
		}
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

// ParseAmount parses a signed amount, ignoring thousands separators
func ParseAmount(value string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(",", "", " ", "", "\u00a0", "").Replace(value)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", value)
	}
	return amount, nil
}

// isEmptyRow checks if all fields in a row are empty
func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
