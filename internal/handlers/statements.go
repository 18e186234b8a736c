package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/ashmitsharp/accountant-api/internal/jobs"
	"github.com/ashmitsharp/accountant-api/internal/logger"
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/services"
	"github.com/ashmitsharp/accountant-api/internal/utils"
)

const (
	// PresignedURLExpiryMinutes is the expiry time for presigned URLs in minutes
	PresignedURLExpiryMinutes = 15
	// PresignedURLExpirySeconds is the expiry time for presigned URLs in seconds
	PresignedURLExpirySeconds = PresignedURLExpiryMinutes * 60

	minStatementYear = 2000
	maxStatementYear = 2100
)

var (
	// AllowedContentTypes defines the content types that are allowed for upload
	AllowedContentTypes = map[string]bool{
		"text/csv":                 true,
		"application/vnd.ms-excel": true,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	}
)

// ObjectStore holds uploaded statement files
type ObjectStore interface {
	GenerateStatementKey(businessID string, year, month int, filename string) (string, error)
	GeneratePresignedURL(ctx context.Context, key, contentType string, expiryMinutes int) (string, error)
	UploadFile(ctx context.Context, key, contentType string, data []byte) error
	DeleteFile(ctx context.Context, key string) error
}

// ProcessingQueue runs statement processing in the background
type ProcessingQueue interface {
	PublishProcessStatement(ctx context.Context, statementID string) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
}

// StatementProcessor runs the statement pipeline and the review views
type StatementProcessor interface {
	ProcessStatement(ctx context.Context, statementID string) (*models.Statement, error)
	Summarize(ctx context.Context, statementID string) (*services.StatementSummary, error)
	RecalculateDrafts(ctx context.Context, statementID string) (*services.StatementSummary, error)
}

// StatementHandler handles statement upload, processing and review requests
type StatementHandler struct {
	store     Store
	storage   ObjectStore
	validator *services.FileValidator
	queue     ProcessingQueue
	processor StatementProcessor
}

// NewStatementHandler creates a statement handler. storage may be nil when
// object storage is not configured; uploads are then refused.
func NewStatementHandler(store Store, storage ObjectStore, validator *services.FileValidator, queue ProcessingQueue, processor StatementProcessor) *StatementHandler {
	return &StatementHandler{
		store:     store,
		storage:   storage,
		validator: validator,
		queue:     queue,
		processor: processor,
	}
}

// statementPeriod is the period and bank a statement covers
type statementPeriod struct {
	Month      int
	Year       int
	BankSource models.BankSource
}

func parseStatementPeriod(month, year, bank string) (statementPeriod, error) {
	var p statementPeriod
	var err error

	if p.Month, err = strconv.Atoi(strings.TrimSpace(month)); err != nil || p.Month < 1 || p.Month > 12 {
		return p, fmt.Errorf("month must be between 1 and 12")
	}
	if p.Year, err = strconv.Atoi(strings.TrimSpace(year)); err != nil || p.Year < minStatementYear || p.Year > maxStatementYear {
		return p, fmt.Errorf("year must be between %d and %d", minStatementYear, maxStatementYear)
	}
	p.BankSource = models.BankSource(strings.ToLower(strings.TrimSpace(bank)))
	if !p.BankSource.Valid() {
		return p, fmt.Errorf("bank_source must be tbc or bog")
	}
	return p, nil
}

// UploadStatement stores a statement file and queues it for processing
// POST /v1/statements (multipart: file, month, year, bank_source)
func (h *StatementHandler) UploadStatement(c fiber.Ctx) error {
	// 1. Authenticate
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if h.storage == nil {
		return utils.ErrorResponse(c, utils.NewServiceUnavailableError("file storage is not configured"), "statement")
	}

	// 2. Resolve the business
	biz, err := h.store.GetBusinessByUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	// 3. Validate period fields
	period, err := parseStatementPeriod(c.FormValue("month"), c.FormValue("year"), c.FormValue("bank_source"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// 4. Read and validate the file
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return utils.ErrorResponse(c, fmt.Errorf("open upload: %w", err), "statement")
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	result, data, err := h.validator.ValidateFile(file, fileHeader.Filename, contentType)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	if !result.Valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid statement file",
			"details": result.Errors,
		})
	}

	// 5. Store the file
	key, err := h.storage.GenerateStatementKey(biz.ID, period.Year, period.Month, fileHeader.Filename)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	if err := h.storage.UploadFile(c.Context(), key, contentType, data); err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	// 6. Record the statement
	stmt, err := h.createStatement(c.Context(), biz, period, key, fileHeader.Filename)
	if err != nil {
		if cleanupErr := h.storage.DeleteFile(c.Context(), key); cleanupErr != nil {
			log := logger.FromContext(c.Context())
			log.Warn().Err(cleanupErr).Str("key", key).Msg("failed to delete orphaned upload")
		}
		return utils.ErrorResponse(c, err, "statement for this period and bank")
	}

	// 7. Queue processing
	return h.respondQueued(c, stmt, result.Warnings)
}

// GetPresignedURL generates a presigned URL for a direct statement upload
// Query params: filename, content_type, month, year
// Returns: upload_url, file_key, expires_in
func (h *StatementHandler) GetPresignedURL(c fiber.Ctx) error {
	// 1. Get query parameters
	filename := c.Query("filename")
	contentType := c.Query("content_type")

	// 2. Validate filename
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "filename is required",
		})
	}
	if err := h.validator.ValidateFilename(filename); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// 3. Validate content_type
	if contentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content_type is required",
		})
	}

	// 4. Validate content type against allowed types
	if !AllowedContentTypes[contentType] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported file type",
		})
	}

	// 5. Get user_id from context (set by auth middleware)
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if h.storage == nil {
		return utils.ErrorResponse(c, utils.NewServiceUnavailableError("file storage is not configured"), "statement")
	}

	// 6. Validate the period the key is named after
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "month must be between 1 and 12",
		})
	}
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < minStatementYear || year > maxStatementYear {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("year must be between %d and %d", minStatementYear, maxStatementYear),
		})
	}

	biz, err := h.store.GetBusinessByUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	// 7. Generate upload key
	key, err := h.storage.GenerateStatementKey(biz.ID, year, month, filename)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate upload key",
		})
	}

	// 8. Generate presigned URL
	url, err := h.storage.GeneratePresignedURL(c.Context(), key, contentType, PresignedURLExpiryMinutes)
	if err != nil {
		log := logger.FromContext(c.Context())
		log.Error().Err(err).Msg("presign failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate presigned URL",
		})
	}

	// 9. Return successful response
	return c.JSON(fiber.Map{
		"upload_url": url,
		"file_key":   key,
		"expires_in": PresignedURLExpirySeconds,
	})
}

// CreateFromKeyRequest registers a file uploaded through a presigned URL
type CreateFromKeyRequest struct {
	FileKey    string `json:"file_key"`
	FileName   string `json:"file_name"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
	BankSource string `json:"bank_source"`
}

// CreateFromKey records a statement whose file is already in storage
// POST /v1/statements/from-key
func (h *StatementHandler) CreateFromKey(c fiber.Ctx) error {
	// 1. Parse request body
	var req CreateFromKeyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	// 2. Validate fields
	if req.FileKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file_key is required",
		})
	}
	period, err := parseStatementPeriod(strconv.Itoa(req.Month), strconv.Itoa(req.Year), req.BankSource)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// 3. Authenticate and authorize
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	biz, err := h.store.GetBusinessByUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	// 4. Security check: the key must live under the business prefix
	if !isFileOwnedByBusiness(req.FileKey, biz.ID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "forbidden - cannot access this file",
		})
	}

	fileName := req.FileName
	if fileName == "" {
		fileName = filepath.Base(req.FileKey)
	}

	// 5. Record and queue
	stmt, err := h.createStatement(c.Context(), biz, period, req.FileKey, fileName)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement for this period and bank")
	}
	return h.respondQueued(c, stmt, nil)
}

func (h *StatementHandler) createStatement(ctx context.Context, biz *models.Business, period statementPeriod, key, fileName string) (*models.Statement, error) {
	now := time.Now().UTC()
	stmt := &models.Statement{
		ID:            uuid.NewString(),
		BusinessID:    biz.ID,
		Month:         period.Month,
		Year:          period.Year,
		BankSource:    period.BankSource,
		FileReference: key,
		FileName:      fileName,
		Status:        models.StatementUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.store.CreateStatement(ctx, stmt); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("statement_id", stmt.ID).
		Str("business_id", biz.ID).
		Str("bank", string(stmt.BankSource)).
		Msg("statement uploaded")
	return stmt, nil
}

// respondQueued queues processing and answers 201. A statement that could
// not be queued stays uploaded and can be processed manually.
func (h *StatementHandler) respondQueued(c fiber.Ctx, stmt *models.Statement, warnings []string) error {
	resp := fiber.Map{
		"statement": stmt,
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}

	job, err := h.queue.PublishProcessStatement(c.Context(), stmt.ID)
	if err != nil {
		log := logger.FromContext(c.Context())
		log.Warn().Err(err).Str("statement_id", stmt.ID).Msg("failed to queue statement processing")
		resp["processing"] = "not_queued"
	} else {
		resp["job_id"] = job.ID
		resp["processing"] = "queued"
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListStatements returns the business's statements, newest period first
// GET /v1/statements
func (h *StatementHandler) ListStatements(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	biz, err := h.store.GetBusinessByUser(c.Context(), userID)
	if err != nil {
		return utils.ErrorResponse(c, err, "business")
	}

	statements, err := h.store.ListStatements(c.Context(), biz.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	return c.JSON(fiber.Map{
		"statements": statements,
		"count":      len(statements),
	})
}

// GetStatement returns one statement
// GET /v1/statements/:id
func (h *StatementHandler) GetStatement(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	stmt, err := ownedStatement(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	return c.JSON(stmt)
}

// ProcessStatement runs processing synchronously, for retries after an error
// POST /v1/statements/:id/process
func (h *StatementHandler) ProcessStatement(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	stmt, err := ownedStatement(c.Context(), h.store, userID, c.Params("id"))
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}

	processed, err := h.processor.ProcessStatement(c.Context(), stmt.ID)
	if err != nil {
		return utils.ErrorResponse(c, err, "statement")
	}
	return c.JSON(processed)
}

// GetJob reports the state of a background processing job
// GET /v1/jobs/:id
func (h *StatementHandler) GetJob(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	job, err := h.queue.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return utils.ErrorResponse(c, models.ErrNotFound, "job")
		}
		return utils.ErrorResponse(c, err, "job")
	}

	// Jobs are only visible to the owner of their statement
	if _, err := ownedStatement(c.Context(), h.store, userID, job.StatementID); err != nil {
		return utils.ErrorResponse(c, err, "job")
	}
	return c.JSON(job)
}

// isFileOwnedByBusiness checks if a file key belongs to the specified business
func isFileOwnedByBusiness(fileKey, businessID string) bool {
	expectedPrefix := fmt.Sprintf("statements/%s/", businessID)
	return strings.HasPrefix(fileKey, expectedPrefix) && !strings.Contains(fileKey, "..")
}
