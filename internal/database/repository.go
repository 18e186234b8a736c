package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Amounts are written as text and cast to numeric in SQL, and read back
// as text, so no precision passes through float64.

const businessColumns = `id, user_id, company_name, tin, owner_name, email, rsge_username, rsge_password,
	reminders_enabled, reminder_days_before, created_at, updated_at`

const statementColumns = `id, business_id, month, year, bank_source, file_url, file_name, status,
	total_transactions, error_message, processed_at, created_at, updated_at`

const transactionColumns = `id, statement_id, date, description, amount::text, currency, ai_category,
	final_category, ai_confidence, tax_treatment, created_at`

const declarationColumns = `id, business_id, statement_id, declaration_type, period_month, period_year,
	tax_amount::text, declaration_data, status, rsge_confirmation, submitted_at, notes, created_at, updated_at,
	submission_started_at`

const notificationColumns = `id, user_id, type, title, message, read, email_sent, related_declaration_id, created_at`

// Repository stores the domain in Postgres
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a Postgres repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func translateError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrDuplicate
	}
	return err
}

// Businesses

func scanBusiness(row rowScanner) (*models.Business, error) {
	var b models.Business
	err := row.Scan(
		&b.ID, &b.UserID, &b.CompanyName, &b.TIN, &b.OwnerName, &b.Email,
		&b.RSGeUsername, &b.RSGePassword, &b.RemindersEnabled, &b.ReminderDaysBefore,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return &b, nil
}

func (r *Repository) CreateBusiness(ctx context.Context, b *models.Business) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO businesses (`+businessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.UserID, b.CompanyName, b.TIN, b.OwnerName, b.Email,
		b.RSGeUsername, b.RSGePassword, b.RemindersEnabled, b.ReminderDaysBefore,
		b.CreatedAt, b.UpdatedAt,
	)
	return translateError(err)
}

func (r *Repository) GetBusiness(ctx context.Context, id string) (*models.Business, error) {
	return scanBusiness(r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id))
}

func (r *Repository) GetBusinessByUser(ctx context.Context, userID string) (*models.Business, error) {
	return scanBusiness(r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE user_id = $1`, userID))
}

func (r *Repository) ListReminderBusinesses(ctx context.Context) ([]models.Business, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE reminders_enabled
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Statements

func scanStatement(row rowScanner) (*models.Statement, error) {
	var s models.Statement
	var bank, status string
	err := row.Scan(
		&s.ID, &s.BusinessID, &s.Month, &s.Year, &bank, &s.FileReference, &s.FileName, &status,
		&s.TotalTransactions, &s.ErrorMessage, &s.ProcessedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	s.BankSource = models.BankSource(bank)
	s.Status = models.StatementStatus(status)
	return &s, nil
}

func (r *Repository) CreateStatement(ctx context.Context, st *models.Statement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO statements (`+statementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		st.ID, st.BusinessID, st.Month, st.Year, string(st.BankSource), st.FileReference, st.FileName,
		string(st.Status), st.TotalTransactions, st.ErrorMessage, st.ProcessedAt, st.CreatedAt, st.UpdatedAt,
	)
	return translateError(err)
}

func (r *Repository) GetStatement(ctx context.Context, id string) (*models.Statement, error) {
	return scanStatement(r.pool.QueryRow(ctx, `SELECT `+statementColumns+` FROM statements WHERE id = $1`, id))
}

func (r *Repository) ListStatements(ctx context.Context, businessID string) ([]models.Statement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+statementColumns+`
		FROM statements
		WHERE business_id = $1
		ORDER BY year DESC, month DESC, created_at DESC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Statement{}
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *Repository) HasStatementForPeriod(ctx context.Context, businessID string, month, year int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM statements WHERE business_id = $1 AND month = $2 AND year = $3)`,
		businessID, month, year,
	).Scan(&exists)
	return exists, err
}

// TransitionStatement moves a statement to `to` only if its current status
// is one of `from`. The check and the write are a single statement, so two
// concurrent callers can never both win.
func (r *Repository) TransitionStatement(ctx context.Context, id string, from []models.StatementStatus, to models.StatementStatus) (*models.Statement, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	st, err := scanStatement(r.pool.QueryRow(ctx, `
		UPDATE statements
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+statementColumns,
		id, allowed, string(to),
	))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := r.GetStatement(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrStateConflict
	}
	return st, err
}

func (r *Repository) CompleteProcessing(ctx context.Context, statementID string, txns []models.ClassifiedTransaction, decls []models.Declaration, processedAt time.Time) (*models.Statement, error) {
	var result *models.Statement
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM statements WHERE id = $1 FOR UPDATE`, statementID).Scan(&status)
		if err != nil {
			return translateError(err)
		}
		if models.StatementStatus(status) != models.StatementProcessing {
			return models.ErrStateConflict
		}

		filed, err := filedDeclarationTypes(ctx, tx, statementID)
		if err != nil {
			return err
		}
		for _, d := range decls {
			if filed[d.Type] {
				return models.ErrDuplicate
			}
		}

		// Drop leftovers of earlier attempts
		if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE statement_id = $1`, statementID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM declarations WHERE statement_id = $1 AND status = 'draft'`, statementID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, t := range txns {
			batch.Queue(`
				INSERT INTO transactions (id, statement_id, position, date, description, amount, currency,
					ai_category, final_category, ai_confidence, tax_treatment, created_at)
				VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)`,
				t.ID, statementID, i, t.Date, t.Description, t.Amount.String(), t.Currency,
				t.Category.AI, t.Category.Override, t.Confidence, string(t.TaxTreatment), t.CreatedAt,
			)
		}
		for _, d := range decls {
			if err := queueDeclarationInsert(batch, d); err != nil {
				return err
			}
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return translateError(err)
			}
		}

		result, err = scanStatement(tx.QueryRow(ctx, `
			UPDATE statements
			SET status = 'processed', total_transactions = $2, processed_at = $3,
			    error_message = NULL, updated_at = $3
			WHERE id = $1
			RETURNING `+statementColumns,
			statementID, len(txns), processedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func filedDeclarationTypes(ctx context.Context, q querier, statementID string) (map[models.DeclarationType]bool, error) {
	rows, err := q.Query(ctx, `
		SELECT declaration_type FROM declarations
		WHERE statement_id = $1 AND status <> 'draft'`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	filed := make(map[models.DeclarationType]bool)
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, err
		}
		filed[models.DeclarationType(typ)] = true
	}
	return filed, rows.Err()
}

func queueDeclarationInsert(batch *pgx.Batch, d models.Declaration) error {
	data, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode declaration data: %w", err)
	}
	batch.Queue(`
		INSERT INTO declarations (id, business_id, statement_id, declaration_type, period_month, period_year,
			tax_amount, declaration_data, status, rsge_confirmation, submitted_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.BusinessID, d.StatementID, string(d.Type), d.Month, d.Year,
		d.TaxAmount.StringFixed(2), data, string(d.Status), d.RSGeConfirmation, d.SubmittedAt, d.Notes,
		d.CreatedAt, d.UpdatedAt,
	)
	return nil
}

func (r *Repository) FailStaleProcessing(ctx context.Context, before time.Time, message string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE statements SET status = 'error', error_message = $2, updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1`, before, message)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) MarkStatementError(ctx context.Context, statementID, message string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE statements SET status = 'error', error_message = $2, updated_at = NOW()
		WHERE id = $1`, statementID, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Transactions

func scanTransaction(row rowScanner) (*models.ClassifiedTransaction, error) {
	var t models.ClassifiedTransaction
	var amount, treatment string
	err := row.Scan(
		&t.ID, &t.StatementID, &t.Date, &t.Description, &amount, &t.Currency,
		&t.Category.AI, &t.Category.Override, &t.Confidence, &treatment, &t.CreatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode amount of transaction %s: %w", t.ID, err)
	}
	t.TaxTreatment = models.TaxTreatment(treatment)
	return &t, nil
}

func (r *Repository) ListTransactions(ctx context.Context, statementID string) ([]models.ClassifiedTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE statement_id = $1
		ORDER BY position`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ClassifiedTransaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (*models.ClassifiedTransaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *Repository) SetCategoryOverride(ctx context.Context, id string, override *string) (*models.ClassifiedTransaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `
		UPDATE transactions SET final_category = $2
		WHERE id = $1
		RETURNING `+transactionColumns, id, override))
}

// Declarations

func scanDeclaration(row rowScanner) (*models.Declaration, error) {
	var d models.Declaration
	var typ, amount, status string
	var data []byte
	err := row.Scan(
		&d.ID, &d.BusinessID, &d.StatementID, &typ, &d.Month, &d.Year,
		&amount, &data, &status, &d.RSGeConfirmation, &d.SubmittedAt, &d.Notes,
		&d.CreatedAt, &d.UpdatedAt, &d.SubmissionStartedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	d.Type = models.DeclarationType(typ)
	d.Status = models.DeclarationStatus(status)
	if d.TaxAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode tax amount of declaration %s: %w", d.ID, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d.Data); err != nil {
			return nil, fmt.Errorf("decode data of declaration %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

func collectDeclarations(rows pgx.Rows, err error) ([]models.Declaration, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Declaration{}
	for rows.Next() {
		d, err := scanDeclaration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

const declarationOrder = `ORDER BY period_year DESC, period_month DESC, declaration_type DESC`

func (r *Repository) GetDeclaration(ctx context.Context, id string) (*models.Declaration, error) {
	return scanDeclaration(r.pool.QueryRow(ctx, `SELECT `+declarationColumns+` FROM declarations WHERE id = $1`, id))
}

func (r *Repository) ListDeclarations(ctx context.Context, businessID string) ([]models.Declaration, error) {
	return collectDeclarations(r.pool.Query(ctx, `
		SELECT `+declarationColumns+` FROM declarations
		WHERE business_id = $1 `+declarationOrder, businessID))
}

func (r *Repository) ListStatementDeclarations(ctx context.Context, statementID string) ([]models.Declaration, error) {
	return listStatementDeclarations(ctx, r.pool, statementID)
}

func listStatementDeclarations(ctx context.Context, q querier, statementID string) ([]models.Declaration, error) {
	return collectDeclarations(q.Query(ctx, `
		SELECT `+declarationColumns+` FROM declarations
		WHERE statement_id = $1 `+declarationOrder, statementID))
}

func (r *Repository) ListPeriodDeclarations(ctx context.Context, businessID string, month, year int) ([]models.Declaration, error) {
	return collectDeclarations(r.pool.Query(ctx, `
		SELECT `+declarationColumns+` FROM declarations
		WHERE business_id = $1 AND period_month = $2 AND period_year = $3 `+declarationOrder,
		businessID, month, year))
}

// RefreshDraftDeclarations reconciles a statement's drafts with freshly
// computed ones: drafts are updated, created or deleted per type, and
// filed declarations are left alone.
func (r *Repository) RefreshDraftDeclarations(ctx context.Context, statementID string, drafts []models.Declaration) ([]models.Declaration, error) {
	var out []models.Declaration
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		current, err := collectDeclarations(tx.Query(ctx, `
			SELECT `+declarationColumns+` FROM declarations
			WHERE statement_id = $1
			FOR UPDATE`, statementID))
		if err != nil {
			return err
		}

		existing := make(map[models.DeclarationType]models.Declaration)
		now := time.Now()
		for _, d := range current {
			if d.IsDraft() && d.SubmissionPending(now) {
				return models.ErrStateConflict
			}
			existing[d.Type] = d
		}
		fresh := make(map[models.DeclarationType]models.Declaration)
		for _, d := range drafts {
			fresh[d.Type] = d
		}

		batch := &pgx.Batch{}
		for _, typ := range []models.DeclarationType{models.DeclarationVAT, models.DeclarationIncomeTax} {
			old, hasOld := existing[typ]
			next, hasNext := fresh[typ]

			switch {
			case hasOld && !old.IsDraft():
				// filed declarations stay as they are
			case hasOld && hasNext:
				data, err := json.Marshal(next.Data)
				if err != nil {
					return fmt.Errorf("encode declaration data: %w", err)
				}
				batch.Queue(`
					UPDATE declarations
					SET tax_amount = $2::numeric, declaration_data = $3, updated_at = NOW()
					WHERE id = $1`, old.ID, next.TaxAmount.StringFixed(2), data)
			case hasOld:
				batch.Queue(`DELETE FROM declarations WHERE id = $1`, old.ID)
			case hasNext:
				if err := queueDeclarationInsert(batch, next); err != nil {
					return err
				}
			}
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return translateError(err)
			}
		}

		out, err = listStatementDeclarations(ctx, tx, statementID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// declarationGuarded runs an UPDATE that only matches in the expected
// status and tells a missing row apart from a wrong status
func (r *Repository) declarationGuarded(ctx context.Context, id, sql string, args ...any) (*models.Declaration, error) {
	d, err := scanDeclaration(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, models.ErrNotFound) {
		if _, getErr := r.GetDeclaration(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrStateConflict
	}
	return d, err
}

func (r *Repository) UpdateDraftDeclaration(ctx context.Context, id string, update models.DeclarationUpdate) (*models.Declaration, error) {
	var amount *string
	if update.TaxAmount != nil {
		v := update.TaxAmount.StringFixed(2)
		amount = &v
	}
	return r.declarationGuarded(ctx, id, `
		UPDATE declarations
		SET tax_amount = COALESCE($2::numeric, tax_amount),
		    notes = COALESCE($3, notes),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'draft'
		  AND (submission_started_at IS NULL OR submission_started_at < $4)
		RETURNING `+declarationColumns, id, amount, update.Notes, time.Now().Add(-models.SubmissionClaimTTL))
}

func (r *Repository) ClaimDeclarationSubmission(ctx context.Context, id string, at time.Time) (*models.Declaration, error) {
	at = at.Truncate(time.Microsecond)
	return r.declarationGuarded(ctx, id, `
		UPDATE declarations
		SET submission_started_at = $2
		WHERE id = $1 AND status = 'draft'
		  AND (submission_started_at IS NULL OR submission_started_at < $3)
		RETURNING `+declarationColumns, id, at, at.Add(-models.SubmissionClaimTTL))
}

func (r *Repository) ReleaseDeclarationSubmission(ctx context.Context, id string, claimedAt time.Time) error {
	_, err := r.declarationGuarded(ctx, id, `
		UPDATE declarations
		SET submission_started_at = NULL
		WHERE id = $1 AND submission_started_at = $2
		RETURNING `+declarationColumns, id, claimedAt)
	return err
}

func (r *Repository) MarkDeclarationSubmitted(ctx context.Context, id string, rec models.SubmissionRecord) (*models.Declaration, error) {
	return r.declarationGuarded(ctx, id, `
		UPDATE declarations
		SET status = 'submitted', rsge_confirmation = $2, submitted_at = $3, updated_at = $3,
		    submission_started_at = NULL
		WHERE id = $1 AND status = 'draft'
		  AND submission_started_at = $4 AND tax_amount = $5::numeric
		RETURNING `+declarationColumns, id, rec.Confirmation, rec.SubmittedAt, rec.ClaimedAt, rec.TaxAmount.StringFixed(2))
}

func (r *Repository) RecordDeclarationDecision(ctx context.Context, id string, status models.DeclarationStatus, notes *string) (*models.Declaration, error) {
	return r.declarationGuarded(ctx, id, `
		UPDATE declarations
		SET status = $2, notes = COALESCE($3, notes), updated_at = NOW()
		WHERE id = $1 AND status = 'submitted'
		RETURNING `+declarationColumns, id, string(status), notes)
}

// Notifications

func (r *Repository) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Read, n.EmailSent, n.RelatedDeclarationID, n.CreatedAt,
	)
	return translateError(err)
}

func (r *Repository) MarkNotificationEmailSent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET email_sent = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *Repository) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	// LIMIT NULL means no limit
	var lim *int
	if limit > 0 {
		lim = &limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Read, &n.EmailSent,
			&n.RelatedDeclarationID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *Repository) HasRecentNotification(ctx context.Context, userID string, typ models.NotificationType, since time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND type = $2 AND created_at >= $3
		)`, userID, string(typ), since,
	).Scan(&exists)
	return exists, err
}
