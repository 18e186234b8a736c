package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/database/memstore"
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/rsge"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Repository = (*memstore.Store)(nil)

const statementCSV = "Date,Description,Amount\n2024-01-10,Consulting,1000\n2024-01-11,Office rent,-400\n"

// MockFileSource is a mock implementation of FileSource
type MockFileSource struct {
	FetchFunc func(ctx context.Context, ref string) ([]byte, error)
	calls     atomic.Int32
}

func (m *MockFileSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return []byte(statementCSV), nil
}

// MockGateway is a mock implementation of Gateway
type MockGateway struct {
	SubmitFunc    func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error)
	VerifyTINFunc func(ctx context.Context, tin string) (bool, error)
	submits       []rsge.Submission
}

func (m *MockGateway) Submit(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
	m.submits = append(m.submits, sub)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, creds, sub)
	}
	return &rsge.Receipt{Confirmation: "RS-2024-01-0000ABCD"}, nil
}

func (m *MockGateway) VerifyTIN(ctx context.Context, tin string) (bool, error) {
	if m.VerifyTINFunc != nil {
		return m.VerifyTINFunc(ctx, tin)
	}
	return true, nil
}

// rentAndConsultingOracle labels the rows of statementCSV
func rentAndConsultingOracle() *MockOracle {
	return &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return `[
				{"index": 0, "ai_category": "Income - Services", "ai_confidence": 0.95, "tax_treatment": "taxable_income"},
				{"index": 1, "ai_category": "Expense - Rent", "ai_confidence": 0.9, "tax_treatment": "deductible_expense"}
			]`, nil
		},
	}
}

type lifecycleFixture struct {
	store   *memstore.Store
	files   *MockFileSource
	gateway *MockGateway
	mailer  *MockMailer
	vault   *CredentialCipher
	lc      *Lifecycle
}

func newLifecycleFixture(t *testing.T, oracle Oracle) *lifecycleFixture {
	t.Helper()

	vault, err := NewCredentialCipher("test-secret")
	require.NoError(t, err)

	f := &lifecycleFixture{
		store:   memstore.New(),
		files:   &MockFileSource{},
		gateway: &MockGateway{},
		mailer:  &MockMailer{},
		vault:   vault,
	}
	log := zerolog.Nop()
	notifier := NewNotifier(f.store, f.mailer, "http://localhost:3000", log)
	f.lc = NewLifecycle(
		f.store,
		f.files,
		NewStatementParser(log),
		NewClassifier(oracle, time.Second, log),
		f.gateway,
		vault,
		notifier,
		log,
	)
	return f
}

func (f *lifecycleFixture) seedBusiness(t *testing.T, withCredentials bool) *models.Business {
	t.Helper()
	biz := testBusiness()
	biz.RemindersEnabled = true
	biz.ReminderDaysBefore = DefaultReminderDaysBefore
	if withCredentials {
		var err error
		biz.RSGeUsername, err = f.vault.Encrypt("rs-user")
		require.NoError(t, err)
		biz.RSGePassword, err = f.vault.Encrypt("rs-pass")
		require.NoError(t, err)
	}
	require.NoError(t, f.store.CreateBusiness(context.Background(), biz))
	return biz
}

func (f *lifecycleFixture) seedStatement(t *testing.T) *models.Statement {
	t.Helper()
	stmt := &models.Statement{
		ID:            "stmt-1",
		BusinessID:    "biz-1",
		Month:         1,
		Year:          2024,
		BankSource:    models.BankTBC,
		FileReference: "statements/biz-1/2024-01-statement.csv",
		FileName:      "statement.csv",
		Status:        models.StatementUploaded,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, f.store.CreateStatement(context.Background(), stmt))
	return stmt
}

func (f *lifecycleFixture) processed(t *testing.T) []models.Declaration {
	t.Helper()
	f.seedBusiness(t, true)
	f.seedStatement(t)
	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	decls, err := f.store.ListStatementDeclarations(context.Background(), "stmt-1")
	require.NoError(t, err)
	return decls
}

func declarationOfType(t *testing.T, decls []models.Declaration, typ models.DeclarationType) models.Declaration {
	t.Helper()
	for _, d := range decls {
		if d.Type == typ {
			return d
		}
	}
	t.Fatalf("no %s declaration", typ)
	return models.Declaration{}
}

func notificationTypes(t *testing.T, store *memstore.Store, userID string) []models.NotificationType {
	t.Helper()
	list, err := store.ListNotifications(context.Background(), userID, 0)
	require.NoError(t, err)
	var types []models.NotificationType
	for _, n := range list {
		types = append(types, n.Type)
	}
	return types
}

func TestProcessStatement_BuildsDrafts(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)

	stmt, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatementProcessed, stmt.Status)
	assert.Equal(t, 2, *stmt.TotalTransactions)
	assert.NotNil(t, stmt.ProcessedAt)

	txns, err := f.store.ListTransactions(context.Background(), "stmt-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	for _, txn := range txns {
		assert.NotEmpty(t, txn.ID)
		assert.Equal(t, "stmt-1", txn.StatementID)
		assert.Nil(t, txn.Category.Override)
	}

	decls, err := f.store.ListStatementDeclarations(context.Background(), "stmt-1")
	require.NoError(t, err)
	require.Len(t, decls, 2)

	vat := declarationOfType(t, decls, models.DeclarationVAT)
	assert.Equal(t, "180", vat.TaxAmount.String())
	assert.Equal(t, models.DeclarationDraft, vat.Status)
	assert.Equal(t, 1, vat.Month)
	assert.Equal(t, 2024, vat.Year)

	income := declarationOfType(t, decls, models.DeclarationIncomeTax)
	assert.Equal(t, "90", income.TaxAmount.String())
	assert.Equal(t, "600", income.Data.Profit.String())

	assert.Contains(t, notificationTypes(t, f.store, "user-1"), models.NotificationProcessingComplete)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "Bank Statement Processed - January 2024", f.mailer.sent[0].Subject)
}

func TestProcessStatement_ZeroIncomeHasNoDrafts(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			return `[{"index": 0, "ai_category": "Expense - Rent", "ai_confidence": 0.9, "tax_treatment": "deductible_expense"}]`, nil
		},
	}
	f := newLifecycleFixture(t, oracle)
	f.files.FetchFunc = func(ctx context.Context, ref string) ([]byte, error) {
		return []byte("Date,Description,Amount\n2024-01-11,Office rent,-400\n"), nil
	}
	f.seedBusiness(t, true)
	f.seedStatement(t)

	stmt, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, stmt.Status)

	decls, err := f.store.ListStatementDeclarations(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Empty(t, decls)
}

func TestProcessStatement_OracleDownStillProcesses(t *testing.T) {
	f := newLifecycleFixture(t, &MockOracle{})
	f.seedBusiness(t, true)
	f.seedStatement(t)

	stmt, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, stmt.Status)
	assert.Equal(t, 2, *stmt.TotalTransactions)
}

func TestProcessStatement_ParseErrorThenRetry(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)

	f.files.FetchFunc = func(ctx context.Context, ref string) ([]byte, error) {
		return []byte("nothing,useful\nhere,at all\n"), nil
	}
	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.Error(t, err)
	assert.True(t, IsParseError(err))

	stmt, err := f.store.GetStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementError, stmt.Status)
	require.NotNil(t, stmt.ErrorMessage)
	assert.NotEmpty(t, *stmt.ErrorMessage)

	// a corrected file can be retried from the error state
	f.files.FetchFunc = nil
	stmt, err = f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, stmt.Status)
	assert.Nil(t, stmt.ErrorMessage)
}

func TestProcessStatement_DownloadFailure(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)
	f.files.FetchFunc = func(ctx context.Context, ref string) ([]byte, error) {
		return nil, errors.New("bucket unreachable")
	}

	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	assert.ErrorContains(t, err, "failed to download file")

	stmt, err := f.store.GetStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementError, stmt.Status)
}

func TestProcessStatement_PanicEndsInError(t *testing.T) {
	oracle := &MockOracle{
		CategorizeFunc: func(ctx context.Context, items []OracleItem) (string, error) {
			panic("boom")
		},
	}
	f := newLifecycleFixture(t, oracle)
	f.seedBusiness(t, true)
	f.seedStatement(t)

	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.Error(t, err)

	stmt, err := f.store.GetStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementError, stmt.Status)
}

func TestProcessStatement_AlreadyProcessed(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.processed(t)

	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	assert.ErrorIs(t, err, models.ErrStateConflict)
	assert.Equal(t, int32(1), f.files.calls.Load())
}

func TestProcessStatement_ConcurrentAttemptsRunOnce(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.files.FetchFunc = func(ctx context.Context, ref string) ([]byte, error) {
		close(started)
		<-release
		return []byte(statementCSV), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
		done <- err
	}()

	<-started
	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	assert.ErrorIs(t, err, models.ErrStateConflict)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), f.files.calls.Load())

	stmt, err := f.store.GetStatement(context.Background(), "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, stmt.Status)
}

func TestProcessStatement_CanceledRequestStillCompletes(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.files.FetchFunc = func(fetchCtx context.Context, ref string) ([]byte, error) {
		cancel()
		if fetchCtx.Err() != nil {
			return nil, fetchCtx.Err()
		}
		return []byte(statementCSV), nil
	}

	stmt, err := f.lc.ProcessStatement(ctx, "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, stmt.Status)
}

func TestRecoverInterruptedProcessing(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, false)
	stmt := f.seedStatement(t)
	ctx := context.Background()

	// a run that died after claiming the statement
	_, err := f.store.TransitionStatement(ctx, stmt.ID, models.ProcessableStatuses, models.StatementProcessing)
	require.NoError(t, err)

	moved, err := f.lc.RecoverInterruptedProcessing(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, moved, "recent runs are left alone")

	f.lc.now = func() time.Time { return time.Now().Add(time.Hour) }
	moved, err = f.lc.RecoverInterruptedProcessing(ctx, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	stored, err := f.store.GetStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatementError, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, InterruptedProcessingMessage, *stored.ErrorMessage)

	// the statement can be processed again
	f.lc.now = time.Now
	processed, err := f.lc.ProcessStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatementProcessed, processed.Status)
}

func TestSubmitDeclaration_Success(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	var gotCreds rsge.Credentials
	f.gateway.SubmitFunc = func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		gotCreds = creds
		return &rsge.Receipt{Confirmation: "RS-2024-01-1234ABCD"}, nil
	}

	submitted, err := f.lc.SubmitDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)

	assert.Equal(t, models.DeclarationSubmitted, submitted.Status)
	assert.Equal(t, "RS-2024-01-1234ABCD", *submitted.RSGeConfirmation)
	assert.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, rsge.Credentials{Username: "rs-user", Password: "rs-pass"}, gotCreds)

	require.Len(t, f.gateway.submits, 1)
	sub := f.gateway.submits[0]
	assert.Equal(t, "VAT", sub.Type)
	assert.Equal(t, "123456789", sub.TIN)
	assert.Equal(t, 1, sub.Month)
	assert.Equal(t, 2024, sub.Year)
	assert.Equal(t, "180", sub.TaxAmount.String())

	assert.Contains(t, notificationTypes(t, f.store, "user-1"), models.NotificationSubmissionSuccess)
}

func TestSubmitDeclaration_NotDraftSkipsGateway(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	_, err := f.lc.SubmitDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)

	_, err = f.lc.SubmitDeclaration(context.Background(), vat.ID)
	assert.ErrorIs(t, err, models.ErrStateConflict)
	assert.Len(t, f.gateway.submits, 1)
}

func TestSubmitDeclaration_CredentialsMissing(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, false)
	f.seedStatement(t)
	_, err := f.lc.ProcessStatement(context.Background(), "stmt-1")
	require.NoError(t, err)

	decls, err := f.store.ListStatementDeclarations(context.Background(), "stmt-1")
	require.NoError(t, err)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	_, err = f.lc.SubmitDeclaration(context.Background(), vat.ID)
	assert.ErrorIs(t, err, ErrCredentialsMissing)
	assert.Empty(t, f.gateway.submits)
}

func TestSubmitDeclaration_GatewayFailureKeepsDraft(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	f.gateway.SubmitFunc = func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		return nil, &rsge.Error{Kind: rsge.ErrServiceUnavailable, Op: "submit", Status: 503}
	}

	_, err := f.lc.SubmitDeclaration(context.Background(), vat.ID)
	assert.ErrorIs(t, err, rsge.ErrServiceUnavailable)

	stored, err := f.store.GetDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeclarationDraft, stored.Status)
	assert.Nil(t, stored.RSGeConfirmation)

	assert.Contains(t, notificationTypes(t, f.store, "user-1"), models.NotificationSubmissionError)

	// the draft can be submitted again once the service is back
	f.gateway.SubmitFunc = nil
	submitted, err := f.lc.SubmitDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeclarationSubmitted, submitted.Status)
}

func TestSubmitDeclaration_NotFound(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	_, err := f.lc.SubmitDeclaration(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubmitDeclaration_DraftFrozenWhileFiling(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)
	ctx := context.Background()

	txns, err := f.store.ListTransactions(ctx, "stmt-1")
	require.NoError(t, err)

	var editErr, recalcErr error
	f.gateway.SubmitFunc = func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		amount := decimal.RequireFromString("999")
		_, editErr = f.lc.UpdateDraftDeclaration(ctx, vat.ID, models.DeclarationUpdate{TaxAmount: &amount})

		other := models.CategoryIncomeOther
		_, err := f.lc.OverrideCategory(ctx, txns[0].ID, &other)
		require.NoError(t, err)
		_, recalcErr = f.lc.RecalculateDrafts(ctx, "stmt-1")

		return &rsge.Receipt{Confirmation: "RS-2024-01-0000ABCD"}, nil
	}

	submitted, err := f.lc.SubmitDeclaration(ctx, vat.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, editErr, models.ErrStateConflict)
	assert.ErrorIs(t, recalcErr, models.ErrStateConflict)

	require.Len(t, f.gateway.submits, 1)
	assert.Equal(t, "180", f.gateway.submits[0].TaxAmount.String())

	stored, err := f.store.GetDeclaration(ctx, vat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeclarationSubmitted, stored.Status)
	assert.Equal(t, "180", stored.TaxAmount.String())
	assert.Nil(t, stored.SubmissionStartedAt)
	assert.Equal(t, submitted.ID, stored.ID)
}

func TestSubmitDeclaration_SecondSubmitWhileFilingConflicts(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	var nestedErr error
	f.gateway.SubmitFunc = func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		f.gateway.SubmitFunc = nil
		_, nestedErr = f.lc.SubmitDeclaration(ctx, vat.ID)
		return &rsge.Receipt{Confirmation: "RS-2024-01-0000ABCD"}, nil
	}

	_, err := f.lc.SubmitDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, models.ErrStateConflict)
	assert.Len(t, f.gateway.submits, 1)
}

func TestSubmitDeclaration_CanceledCallerStillRecorded(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gateway.SubmitFunc = func(_ context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		cancel()
		return &rsge.Receipt{Confirmation: "RS-2024-01-0000ABCD"}, nil
	}

	_, err := f.lc.SubmitDeclaration(ctx, vat.ID)
	require.NoError(t, err)

	stored, err := f.store.GetDeclaration(context.Background(), vat.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeclarationSubmitted, stored.Status)
	require.NotNil(t, stored.RSGeConfirmation)
	assert.Equal(t, "RS-2024-01-0000ABCD", *stored.RSGeConfirmation)
	assert.Contains(t, notificationTypes(t, f.store, "user-1"), models.NotificationSubmissionSuccess)
}

func TestSubmitDeclaration_FailureUnfreezesDraft(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)
	ctx := context.Background()

	f.gateway.SubmitFunc = func(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error) {
		return nil, &rsge.Error{Kind: rsge.ErrServiceUnavailable, Op: "submit", Status: 503}
	}
	_, err := f.lc.SubmitDeclaration(ctx, vat.ID)
	require.Error(t, err)

	amount := decimal.RequireFromString("175")
	updated, err := f.lc.UpdateDraftDeclaration(ctx, vat.ID, models.DeclarationUpdate{TaxAmount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "175", updated.TaxAmount.String())
	assert.Nil(t, updated.SubmissionStartedAt)
}

func TestOverrideCategoryAndRecalculate(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.processed(t)
	ctx := context.Background()

	txns, err := f.store.ListTransactions(ctx, "stmt-1")
	require.NoError(t, err)
	rent := txns[1]

	unknown := "Expense - Yachts"
	_, err = f.lc.OverrideCategory(ctx, rent.ID, &unknown)
	assert.ErrorIs(t, err, models.ErrValidation)

	uncategorized := models.CategoryUncategorized
	_, err = f.lc.OverrideCategory(ctx, rent.ID, &uncategorized)
	assert.ErrorIs(t, err, models.ErrValidation)

	transfer := models.CategoryInternalTransfer
	updated, err := f.lc.OverrideCategory(ctx, rent.ID, &transfer)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryInternalTransfer, updated.Category.Effective())
	assert.Equal(t, models.CategoryExpenseRent, updated.Category.AI)

	summary, err := f.lc.RecalculateDrafts(ctx, "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, "0", summary.Figures.TotalExpenses.String())
	assert.Equal(t, 1, summary.Buckets.OtherCount)

	income := declarationOfType(t, summary.Declarations, models.DeclarationIncomeTax)
	assert.Equal(t, "150", income.TaxAmount.String())
	vat := declarationOfType(t, summary.Declarations, models.DeclarationVAT)
	assert.Equal(t, "180", vat.TaxAmount.String())

	// clearing the override restores the oracle label
	empty := ""
	cleared, err := f.lc.OverrideCategory(ctx, rent.ID, &empty)
	require.NoError(t, err)
	assert.Nil(t, cleared.Category.Override)

	view, err := f.lc.Summarize(ctx, "stmt-1")
	require.NoError(t, err)
	assert.Equal(t, "90", view.Figures.IncomeTaxAmount.String())
}

func TestRecalculateDrafts_KeepsSubmitted(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	ctx := context.Background()

	vat := declarationOfType(t, decls, models.DeclarationVAT)
	_, err := f.lc.SubmitDeclaration(ctx, vat.ID)
	require.NoError(t, err)

	txns, err := f.store.ListTransactions(ctx, "stmt-1")
	require.NoError(t, err)
	other := models.CategoryIncomeOther
	_, err = f.lc.OverrideCategory(ctx, txns[0].ID, &other)
	require.NoError(t, err)

	summary, err := f.lc.RecalculateDrafts(ctx, "stmt-1")
	require.NoError(t, err)

	filed := declarationOfType(t, summary.Declarations, models.DeclarationVAT)
	assert.Equal(t, vat.ID, filed.ID)
	assert.Equal(t, models.DeclarationSubmitted, filed.Status)
}

func TestRecalculateDrafts_RequiresProcessed(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	f.seedBusiness(t, true)
	f.seedStatement(t)

	_, err := f.lc.RecalculateDrafts(context.Background(), "stmt-1")
	assert.ErrorIs(t, err, models.ErrStateConflict)
}

func TestUpdateDraftDeclaration(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)
	ctx := context.Background()

	negative := decimal.RequireFromString("-1")
	fractional := decimal.RequireFromString("123.456")
	notes := "adjusted for prior credit"

	tests := []struct {
		name    string
		update  models.DeclarationUpdate
		wantErr error
		want    string
	}{
		{name: "nothing to update", update: models.DeclarationUpdate{}, wantErr: models.ErrValidation},
		{name: "negative amount", update: models.DeclarationUpdate{TaxAmount: &negative}, wantErr: models.ErrValidation},
		{name: "rounds to cents", update: models.DeclarationUpdate{TaxAmount: &fractional, Notes: &notes}, want: "123.46"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.lc.UpdateDraftDeclaration(ctx, vat.ID, tt.update)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.TaxAmount.String())
			assert.Equal(t, notes, *d.Notes)
		})
	}
}

func TestRecordAuthorityDecision(t *testing.T) {
	f := newLifecycleFixture(t, rentAndConsultingOracle())
	decls := f.processed(t)
	vat := declarationOfType(t, decls, models.DeclarationVAT)
	ctx := context.Background()

	_, err := f.lc.RecordAuthorityDecision(ctx, vat.ID, models.DeclarationSubmitted, nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.lc.RecordAuthorityDecision(ctx, vat.ID, models.DeclarationAccepted, nil)
	assert.ErrorIs(t, err, models.ErrStateConflict)

	_, err = f.lc.SubmitDeclaration(ctx, vat.ID)
	require.NoError(t, err)

	reason := "missing annex"
	d, err := f.lc.RecordAuthorityDecision(ctx, vat.ID, models.DeclarationRejected, &reason)
	require.NoError(t, err)
	assert.Equal(t, models.DeclarationRejected, d.Status)
	assert.Equal(t, reason, *d.Notes)
}
