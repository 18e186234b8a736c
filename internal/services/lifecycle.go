package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/ashmitsharp/accountant-api/internal/rsge"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileSource retrieves a statement's stored file
type FileSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Gateway is the tax authority client
type Gateway interface {
	Submit(ctx context.Context, creds rsge.Credentials, sub rsge.Submission) (*rsge.Receipt, error)
	VerifyTIN(ctx context.Context, tin string) (bool, error)
}

// CredentialVault encrypts and decrypts stored tax authority credentials
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Lifecycle drives statements from upload to processed and declarations
// from draft to submitted
type Lifecycle struct {
	repo       Repository
	files      FileSource
	parser     *StatementParser
	classifier *Classifier
	gateway    Gateway
	vault      CredentialVault
	notifier   *Notifier
	log        zerolog.Logger
	now        func() time.Time
}

// NewLifecycle wires the controller
func NewLifecycle(
	repo Repository,
	files FileSource,
	parser *StatementParser,
	classifier *Classifier,
	gateway Gateway,
	vault CredentialVault,
	notifier *Notifier,
	log zerolog.Logger,
) *Lifecycle {
	return &Lifecycle{
		repo:       repo,
		files:      files,
		parser:     parser,
		classifier: classifier,
		gateway:    gateway,
		vault:      vault,
		notifier:   notifier,
		log:        log.With().Str("component", "lifecycle").Logger(),
		now:        time.Now,
	}
}

// ProcessStatement runs parse, classify and compute for one statement and
// stores the results. Only a statement in uploaded or error may enter
// processing; any failure afterwards leaves it in error.
func (l *Lifecycle) ProcessStatement(ctx context.Context, statementID string) (*models.Statement, error) {
	// 1. Claim the statement
	stmt, err := l.repo.TransitionStatement(ctx, statementID, models.ProcessableStatuses, models.StatementProcessing)
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			return nil, fmt.Errorf("%w: statement is already processing or processed", models.ErrStateConflict)
		}
		return nil, err
	}

	// Once claimed the run is not abortable
	runCtx := context.WithoutCancel(ctx)
	log := l.log.With().Str("statement_id", stmt.ID).Str("business_id", stmt.BusinessID).Logger()
	start := l.now()

	processed, err := l.runPipeline(runCtx, stmt)
	if err != nil {
		log.Error().Err(err).Msg("statement processing failed")
		if markErr := l.repo.MarkStatementError(runCtx, stmt.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Msg("failed to record statement error")
		}
		return nil, err
	}

	log.Info().
		Int("transactions", derefInt(processed.TotalTransactions)).
		Dur("duration", l.now().Sub(start)).
		Msg("statement processed")

	// 9. Completion notification
	if biz, err := l.repo.GetBusiness(runCtx, stmt.BusinessID); err != nil {
		log.Warn().Err(err).Msg("business not found for notification")
	} else {
		l.notifier.ProcessingComplete(runCtx, biz, processed)
	}

	return processed, nil
}

func (l *Lifecycle) runPipeline(ctx context.Context, stmt *models.Statement) (result *models.Statement, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("statement_id", stmt.ID).Bytes("stack", debug.Stack()).Msg("panic during processing")
			result, err = nil, fmt.Errorf("internal error while processing statement: %v", r)
		}
	}()

	// 2. Retrieve file content
	data, err := l.files.Fetch(ctx, stmt.FileReference)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	// 3. Parse
	raw, err := l.parser.Parse(data, stmt.BankSource)
	if err != nil {
		return nil, err
	}

	// 4. Classify, never fails
	classified := l.classifier.Classify(ctx, raw)

	// 5. Prepare transactions without overrides
	now := l.now().UTC()
	for i := range classified {
		classified[i].ID = uuid.NewString()
		classified[i].StatementID = stmt.ID
		classified[i].Category.Override = nil
		classified[i].CreatedAt = now
	}

	// 6-7. Compute and build drafts
	figures := ComputeTaxes(classified)
	drafts := BuildDraftDeclarations(stmt, figures, len(classified))
	for i := range drafts {
		drafts[i].ID = uuid.NewString()
		drafts[i].CreatedAt = now
		drafts[i].UpdatedAt = now
	}

	// 5-8. Persist everything and mark processed in one step
	processed, err := l.repo.CompleteProcessing(ctx, stmt.ID, classified, drafts, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save processing results: %w", err)
	}
	return processed, nil
}

// InterruptedProcessingMessage is recorded on statements whose processing
// run did not finish
const InterruptedProcessingMessage = "processing was interrupted, please try again"

// RecoverInterruptedProcessing moves statements that have been processing
// for longer than olderThan to error so they can be retried. It runs at
// startup, before any worker picks up a job.
func (l *Lifecycle) RecoverInterruptedProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	moved, err := l.repo.FailStaleProcessing(ctx, l.now().UTC().Add(-olderThan), InterruptedProcessingMessage)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted statements: %w", err)
	}
	if moved > 0 {
		l.log.Warn().Int("statements", moved).Dur("older_than", olderThan).Msg("interrupted statements moved to error")
	}
	return moved, nil
}

// SubmitDeclaration files a draft declaration with the tax authority. The
// draft is claimed before the gateway call so edits and recalculation cannot
// change it while the filing is in flight.
func (l *Lifecycle) SubmitDeclaration(ctx context.Context, declarationID string) (*models.Declaration, error) {
	decl, err := l.repo.GetDeclaration(ctx, declarationID)
	if err != nil {
		return nil, err
	}

	// 1. Only drafts can be submitted
	if !decl.IsDraft() {
		return nil, fmt.Errorf("%w: declaration already %s", models.ErrStateConflict, decl.Status)
	}

	biz, err := l.repo.GetBusiness(ctx, decl.BusinessID)
	if err != nil {
		return nil, err
	}

	// 2. Credentials must be configured
	if !biz.HasCredentials() {
		return nil, ErrCredentialsMissing
	}

	// 3. Decrypt for the duration of this call only
	creds, err := l.decryptCredentials(biz)
	if err != nil {
		return nil, err
	}

	// 4. Freeze the draft
	claimed, err := l.repo.ClaimDeclarationSubmission(ctx, decl.ID, l.now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			return nil, fmt.Errorf("%w: declaration submission already in progress", models.ErrStateConflict)
		}
		return nil, err
	}
	claimedAt := *claimed.SubmissionStartedAt

	// The outcome is recorded even when the caller goes away mid-filing
	persistCtx := context.WithoutCancel(ctx)

	// 5. Submit the claimed snapshot
	log := l.log.With().Str("declaration_id", claimed.ID).Str("type", string(claimed.Type)).Logger()
	receipt, err := l.gateway.Submit(ctx, creds, rsge.Submission{
		Type:      claimed.Type.AuthorityCode(),
		TIN:       biz.TIN,
		Month:     claimed.Month,
		Year:      claimed.Year,
		TaxAmount: claimed.TaxAmount,
		FormData:  claimed.Data,
	})
	if err != nil {
		// 6. Unfreeze the draft and tell the owner
		log.Warn().Err(err).Msg("declaration submission failed")
		if releaseErr := l.repo.ReleaseDeclarationSubmission(persistCtx, claimed.ID, claimedAt); releaseErr != nil {
			log.Error().Err(releaseErr).Msg("failed to release submission claim")
		}
		l.notifier.SubmissionFailed(persistCtx, biz, claimed, err)
		return nil, err
	}

	// 7. Record the submission
	submitted, err := l.repo.MarkDeclarationSubmitted(persistCtx, claimed.ID, models.SubmissionRecord{
		ClaimedAt:    claimedAt,
		TaxAmount:    claimed.TaxAmount,
		Confirmation: receipt.Confirmation,
		SubmittedAt:  l.now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("confirmation", receipt.Confirmation).Msg("submitted but failed to record confirmation")
		return nil, err
	}

	log.Info().Str("confirmation", receipt.Confirmation).Bool("synthesized", receipt.Synthesized).Msg("declaration submitted")
	l.notifier.SubmissionSucceeded(persistCtx, biz, submitted)
	return submitted, nil
}

func (l *Lifecycle) decryptCredentials(biz *models.Business) (rsge.Credentials, error) {
	username, err := l.vault.Decrypt(biz.RSGeUsername)
	if err != nil {
		return rsge.Credentials{}, fmt.Errorf("decrypt rs.ge credentials: %w", err)
	}
	password, err := l.vault.Decrypt(biz.RSGePassword)
	if err != nil {
		return rsge.Credentials{}, fmt.Errorf("decrypt rs.ge credentials: %w", err)
	}
	return rsge.Credentials{Username: username, Password: password}, nil
}

// OverrideCategory sets or, with a nil or empty category, clears the human
// override of a transaction
func (l *Lifecycle) OverrideCategory(ctx context.Context, transactionID string, category *string) (*models.ClassifiedTransaction, error) {
	if category != nil && *category == "" {
		category = nil
	}
	if category != nil && (!models.IsKnownCategory(*category) || *category == models.CategoryUncategorized) {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrValidation, *category)
	}
	return l.repo.SetCategoryOverride(ctx, transactionID, category)
}

// StatementSummary is the review view of a processed statement
type StatementSummary struct {
	Statement    *models.Statement    `json:"statement"`
	Figures      models.TaxFigures    `json:"tax_figures"`
	Buckets      BucketSummary        `json:"buckets"`
	Declarations []models.Declaration `json:"declarations"`
}

// Summarize computes the current figures of a statement from effective categories
func (l *Lifecycle) Summarize(ctx context.Context, statementID string) (*StatementSummary, error) {
	stmt, err := l.repo.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	txns, err := l.repo.ListTransactions(ctx, stmt.ID)
	if err != nil {
		return nil, err
	}
	decls, err := l.repo.ListStatementDeclarations(ctx, stmt.ID)
	if err != nil {
		return nil, err
	}

	return &StatementSummary{
		Statement:    stmt,
		Figures:      ComputeTaxes(txns),
		Buckets:      SummarizeBuckets(txns),
		Declarations: decls,
	}, nil
}

// RecalculateDrafts recomputes a processed statement after overrides and
// refreshes its draft declarations. Submitted declarations are kept as filed.
func (l *Lifecycle) RecalculateDrafts(ctx context.Context, statementID string) (*StatementSummary, error) {
	stmt, err := l.repo.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if stmt.Status != models.StatementProcessed {
		return nil, fmt.Errorf("%w: statement is %s", models.ErrStateConflict, stmt.Status)
	}

	txns, err := l.repo.ListTransactions(ctx, stmt.ID)
	if err != nil {
		return nil, err
	}

	figures := ComputeTaxes(txns)
	now := l.now().UTC()
	drafts := BuildDraftDeclarations(stmt, figures, len(txns))
	for i := range drafts {
		drafts[i].ID = uuid.NewString()
		drafts[i].CreatedAt = now
		drafts[i].UpdatedAt = now
	}

	decls, err := l.repo.RefreshDraftDeclarations(ctx, stmt.ID, drafts)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh drafts: %w", err)
	}

	l.log.Info().Str("statement_id", stmt.ID).Int("declarations", len(decls)).Msg("drafts recalculated")
	return &StatementSummary{
		Statement:    stmt,
		Figures:      figures,
		Buckets:      SummarizeBuckets(txns),
		Declarations: decls,
	}, nil
}

// UpdateDraftDeclaration edits the notes or amount of a draft
func (l *Lifecycle) UpdateDraftDeclaration(ctx context.Context, declarationID string, update models.DeclarationUpdate) (*models.Declaration, error) {
	if update.TaxAmount == nil && update.Notes == nil {
		return nil, fmt.Errorf("%w: nothing to update", models.ErrValidation)
	}
	if update.TaxAmount != nil {
		if update.TaxAmount.IsNegative() {
			return nil, fmt.Errorf("%w: tax amount cannot be negative", models.ErrValidation)
		}
		rounded := update.TaxAmount.Round(2)
		update.TaxAmount = &rounded
	}
	return l.repo.UpdateDraftDeclaration(ctx, declarationID, update)
}

// RecordAuthorityDecision stores the authority's final answer on a submitted declaration
func (l *Lifecycle) RecordAuthorityDecision(ctx context.Context, declarationID string, status models.DeclarationStatus, notes *string) (*models.Declaration, error) {
	if status != models.DeclarationAccepted && status != models.DeclarationRejected {
		return nil, fmt.Errorf("%w: decision must be accepted or rejected", models.ErrValidation)
	}
	decl, err := l.repo.RecordDeclarationDecision(ctx, declarationID, status, notes)
	if err != nil {
		return nil, err
	}
	l.log.Info().Str("declaration_id", decl.ID).Str("status", string(status)).Msg("authority decision recorded")
	return decl, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
