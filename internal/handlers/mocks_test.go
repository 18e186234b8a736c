package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"

	"github.com/ashmitsharp/accountant-api/internal/database/memstore"
	"github.com/ashmitsharp/accountant-api/internal/jobs"
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/services"
)

var (
	_ Store              = (*memstore.Store)(nil)
	_ ObjectStore        = (*services.StorageService)(nil)
	_ ProcessingQueue    = (*jobs.Queue)(nil)
	_ StatementProcessor = (*services.Lifecycle)(nil)
	_ CategoryOverrider  = (*services.Lifecycle)(nil)
	_ DeclarationFiler   = (*services.Lifecycle)(nil)
	_ BusinessRegistry   = (*services.BusinessService)(nil)
	_ DeadlineReminder   = (*services.ReminderService)(nil)
)

// MockObjectStore is a mock implementation of ObjectStore for testing
type MockObjectStore struct {
	GenerateStatementKeyFunc func(businessID string, year, month int, filename string) (string, error)
	GeneratePresignedURLFunc func(ctx context.Context, key, contentType string, expiryMinutes int) (string, error)
	UploadFileFunc           func(ctx context.Context, key, contentType string, data []byte) error
	DeleteFileFunc           func(ctx context.Context, key string) error

	uploaded map[string][]byte
	deleted  []string
}

func (m *MockObjectStore) GenerateStatementKey(businessID string, year, month int, filename string) (string, error) {
	if m.GenerateStatementKeyFunc != nil {
		return m.GenerateStatementKeyFunc(businessID, year, month, filename)
	}
	return fmt.Sprintf("statements/%s/%d-%02d-1700000000000-%s", businessID, year, month, filename), nil
}

func (m *MockObjectStore) GeneratePresignedURL(ctx context.Context, key, contentType string, expiryMinutes int) (string, error) {
	if m.GeneratePresignedURLFunc != nil {
		return m.GeneratePresignedURLFunc(ctx, key, contentType, expiryMinutes)
	}
	return fmt.Sprintf("https://s3.amazonaws.com/bucket/%s?X-Amz-Signature=abc123", key), nil
}

func (m *MockObjectStore) UploadFile(ctx context.Context, key, contentType string, data []byte) error {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, key, contentType, data)
	}
	if m.uploaded == nil {
		m.uploaded = make(map[string][]byte)
	}
	m.uploaded[key] = data
	return nil
}

func (m *MockObjectStore) DeleteFile(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	if m.DeleteFileFunc != nil {
		return m.DeleteFileFunc(ctx, key)
	}
	return nil
}

// MockQueue is a mock implementation of ProcessingQueue for testing
type MockQueue struct {
	PublishFunc func(ctx context.Context, statementID string) (jobs.Job, error)
	GetFunc     func(id string) (jobs.Job, error)

	published []string
}

func (m *MockQueue) PublishProcessStatement(ctx context.Context, statementID string) (jobs.Job, error) {
	m.published = append(m.published, statementID)
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, statementID)
	}
	return jobs.Job{ID: "job-1", StatementID: statementID, Status: jobs.JobStatusPending}, nil
}

func (m *MockQueue) Get(id string) (jobs.Job, error) {
	if m.GetFunc != nil {
		return m.GetFunc(id)
	}
	return jobs.Job{}, jobs.ErrJobNotFound
}

// MockProcessor is a mock implementation of StatementProcessor for testing
type MockProcessor struct {
	ProcessStatementFunc  func(ctx context.Context, statementID string) (*models.Statement, error)
	SummarizeFunc         func(ctx context.Context, statementID string) (*services.StatementSummary, error)
	RecalculateDraftsFunc func(ctx context.Context, statementID string) (*services.StatementSummary, error)
}

func (m *MockProcessor) ProcessStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	if m.ProcessStatementFunc != nil {
		return m.ProcessStatementFunc(ctx, statementID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockProcessor) Summarize(ctx context.Context, statementID string) (*services.StatementSummary, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, statementID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockProcessor) RecalculateDrafts(ctx context.Context, statementID string) (*services.StatementSummary, error) {
	if m.RecalculateDraftsFunc != nil {
		return m.RecalculateDraftsFunc(ctx, statementID)
	}
	return nil, errors.New("not implemented")
}

// MockFiler is a mock implementation of DeclarationFiler and CategoryOverrider
type MockFiler struct {
	SubmitFunc           func(ctx context.Context, declarationID string) (*models.Declaration, error)
	UpdateFunc           func(ctx context.Context, declarationID string, update models.DeclarationUpdate) (*models.Declaration, error)
	DecisionFunc         func(ctx context.Context, declarationID string, status models.DeclarationStatus, notes *string) (*models.Declaration, error)
	OverrideCategoryFunc func(ctx context.Context, transactionID string, category *string) (*models.ClassifiedTransaction, error)
}

func (m *MockFiler) SubmitDeclaration(ctx context.Context, declarationID string) (*models.Declaration, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, declarationID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockFiler) UpdateDraftDeclaration(ctx context.Context, declarationID string, update models.DeclarationUpdate) (*models.Declaration, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, declarationID, update)
	}
	return nil, errors.New("not implemented")
}

func (m *MockFiler) RecordAuthorityDecision(ctx context.Context, declarationID string, status models.DeclarationStatus, notes *string) (*models.Declaration, error) {
	if m.DecisionFunc != nil {
		return m.DecisionFunc(ctx, declarationID, status, notes)
	}
	return nil, errors.New("not implemented")
}

func (m *MockFiler) OverrideCategory(ctx context.Context, transactionID string, category *string) (*models.ClassifiedTransaction, error) {
	if m.OverrideCategoryFunc != nil {
		return m.OverrideCategoryFunc(ctx, transactionID, category)
	}
	return nil, errors.New("not implemented")
}

// seedOwner creates a business for user123 and a statement it owns, plus a
// second business with its own statement
func seedOwner(t *testing.T) (*memstore.Store, *models.Business, *models.Statement) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	now := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	biz := &models.Business{ID: "biz-1", UserID: "user123", CompanyName: "Tbilisi Consulting LLC", TIN: "123456789", CreatedAt: now, UpdatedAt: now}
	other := &models.Business{ID: "biz-2", UserID: "user456", CompanyName: "Batumi Trade", TIN: "987654321", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateBusiness(ctx, biz))
	require.NoError(t, store.CreateBusiness(ctx, other))

	stmt := &models.Statement{
		ID: "stmt-1", BusinessID: biz.ID, Month: 1, Year: 2024, BankSource: models.BankTBC,
		FileReference: "statements/biz-1/2024-01-1-jan.csv", FileName: "jan.csv",
		Status: models.StatementUploaded, CreatedAt: now, UpdatedAt: now,
	}
	foreign := &models.Statement{
		ID: "stmt-2", BusinessID: other.ID, Month: 1, Year: 2024, BankSource: models.BankBOG,
		FileReference: "statements/biz-2/2024-01-1-jan.csv", FileName: "jan.csv",
		Status: models.StatementUploaded, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateStatement(ctx, stmt))
	require.NoError(t, store.CreateStatement(ctx, foreign))

	return store, biz, stmt
}

// newAuthedApp mounts handler on method+path with user123 signed in
func newAuthedApp(method, path string, handler fiber.Handler) *fiber.App {
	return newAppAs("user123", method, path, handler)
}

func newAppAs(userID, method, path string, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Add([]string{method}, path, func(c fiber.Ctx) error {
		// Simulate auth middleware setting user_id
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return handler(c)
	})
	return app
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &result), string(raw))
	return result
}
