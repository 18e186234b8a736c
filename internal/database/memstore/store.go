// Package memstore is an in-memory repository used by tests and by the API
// when no database is configured.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
)

// Store keeps every record in maps guarded by a single mutex, which makes
// each method atomic
type Store struct {
	mu sync.RWMutex

	businesses    map[string]models.Business
	statements    map[string]models.Statement
	transactions  map[string]models.ClassifiedTransaction
	txnOrder      map[string][]string
	declarations  map[string]models.Declaration
	notifications []models.Notification

	now func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		businesses:   make(map[string]models.Business),
		statements:   make(map[string]models.Statement),
		transactions: make(map[string]models.ClassifiedTransaction),
		txnOrder:     make(map[string][]string),
		declarations: make(map[string]models.Declaration),
		now:          time.Now,
	}
}

// Businesses

func (s *Store) CreateBusiness(ctx context.Context, b *models.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.businesses {
		if existing.UserID == b.UserID {
			return models.ErrDuplicate
		}
	}
	s.businesses[b.ID] = *b
	return nil
}

func (s *Store) GetBusiness(ctx context.Context, id string) (*models.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.businesses[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &b, nil
}

func (s *Store) GetBusinessByUser(ctx context.Context, userID string) (*models.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.businesses {
		if b.UserID == userID {
			return &b, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *Store) ListReminderBusinesses(ctx context.Context) ([]models.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Business{}
	for _, b := range s.businesses {
		if b.RemindersEnabled {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Statements

func (s *Store) CreateStatement(ctx context.Context, st *models.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.statements {
		if existing.BusinessID == st.BusinessID && existing.Month == st.Month &&
			existing.Year == st.Year && existing.BankSource == st.BankSource {
			return models.ErrDuplicate
		}
	}
	s.statements[st.ID] = *st
	return nil
}

func (s *Store) GetStatement(ctx context.Context, id string) (*models.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListStatements(ctx context.Context, businessID string) ([]models.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Statement{}
	for _, st := range s.statements {
		if st.BusinessID == businessID {
			out = append(out, st)
		}
	}
	// newest period first
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) HasStatementForPeriod(ctx context.Context, businessID string, month, year int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.statements {
		if st.BusinessID == businessID && st.Month == month && st.Year == year {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) TransitionStatement(ctx context.Context, id string, from []models.StatementStatus, to models.StatementStatus) (*models.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !slices.Contains(from, st.Status) {
		return nil, models.ErrStateConflict
	}

	st.Status = to
	st.UpdatedAt = s.now().UTC()
	s.statements[id] = st
	return &st, nil
}

func (s *Store) FailStaleProcessing(ctx context.Context, before time.Time, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	now := s.now().UTC()
	for id, st := range s.statements {
		if st.Status != models.StatementProcessing || !st.UpdatedAt.Before(before) {
			continue
		}
		msg := message
		st.Status = models.StatementError
		st.ErrorMessage = &msg
		st.UpdatedAt = now
		s.statements[id] = st
		moved++
	}
	return moved, nil
}

func (s *Store) CompleteProcessing(ctx context.Context, statementID string, txns []models.ClassifiedTransaction, decls []models.Declaration, processedAt time.Time) (*models.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if st.Status != models.StatementProcessing {
		return nil, models.ErrStateConflict
	}

	for _, d := range decls {
		for _, existing := range s.declarations {
			if existing.StatementID == statementID && existing.Type == d.Type && !existing.IsDraft() {
				return nil, models.ErrDuplicate
			}
		}
	}

	// Drop leftovers of earlier attempts
	for _, id := range s.txnOrder[statementID] {
		delete(s.transactions, id)
	}
	for id, d := range s.declarations {
		if d.StatementID == statementID && d.IsDraft() {
			delete(s.declarations, id)
		}
	}

	order := make([]string, 0, len(txns))
	for _, t := range txns {
		s.transactions[t.ID] = t
		order = append(order, t.ID)
	}
	s.txnOrder[statementID] = order

	for _, d := range decls {
		s.declarations[d.ID] = d
	}

	count := len(txns)
	at := processedAt
	st.Status = models.StatementProcessed
	st.TotalTransactions = &count
	st.ProcessedAt = &at
	st.ErrorMessage = nil
	st.UpdatedAt = processedAt
	s.statements[statementID] = st
	return &st, nil
}

func (s *Store) MarkStatementError(ctx context.Context, statementID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statements[statementID]
	if !ok {
		return models.ErrNotFound
	}
	st.Status = models.StatementError
	st.ErrorMessage = &message
	st.UpdatedAt = s.now().UTC()
	s.statements[statementID] = st
	return nil
}

// Transactions

func (s *Store) ListTransactions(ctx context.Context, statementID string) ([]models.ClassifiedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.txnOrder[statementID]
	out := make([]models.ClassifiedTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.transactions[id])
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.ClassifiedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &t, nil
}

func (s *Store) SetCategoryOverride(ctx context.Context, id string, override *string) (*models.ClassifiedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if override != nil {
		v := *override
		override = &v
	}
	t.Category.Override = override
	s.transactions[id] = t
	return &t, nil
}

// Declarations

func (s *Store) GetDeclaration(ctx context.Context, id string) (*models.Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.declarations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListDeclarations(ctx context.Context, businessID string) ([]models.Declaration, error) {
	return s.filterDeclarations(func(d models.Declaration) bool { return d.BusinessID == businessID }), nil
}

func (s *Store) ListStatementDeclarations(ctx context.Context, statementID string) ([]models.Declaration, error) {
	return s.filterDeclarations(func(d models.Declaration) bool { return d.StatementID == statementID }), nil
}

func (s *Store) ListPeriodDeclarations(ctx context.Context, businessID string, month, year int) ([]models.Declaration, error) {
	return s.filterDeclarations(func(d models.Declaration) bool {
		return d.BusinessID == businessID && d.Month == month && d.Year == year
	}), nil
}

func (s *Store) filterDeclarations(keep func(models.Declaration) bool) []models.Declaration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Declaration{}
	for _, d := range s.declarations {
		if keep(d) {
			out = append(out, d)
		}
	}
	sortDeclarations(out)
	return out
}

func sortDeclarations(decls []models.Declaration) {
	sort.Slice(decls, func(i, j int) bool {
		if decls[i].Year != decls[j].Year {
			return decls[i].Year > decls[j].Year
		}
		if decls[i].Month != decls[j].Month {
			return decls[i].Month > decls[j].Month
		}
		return decls[i].Type > decls[j].Type
	})
}

func (s *Store) RefreshDraftDeclarations(ctx context.Context, statementID string, drafts []models.Declaration) ([]models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[models.DeclarationType]models.Declaration)
	for _, d := range s.declarations {
		if d.StatementID == statementID {
			existing[d.Type] = d
		}
	}

	fresh := make(map[models.DeclarationType]models.Declaration)
	for _, d := range drafts {
		fresh[d.Type] = d
	}

	now := s.now().UTC()
	for _, d := range existing {
		if d.IsDraft() && d.SubmissionPending(now) {
			return nil, models.ErrStateConflict
		}
	}
	for _, typ := range []models.DeclarationType{models.DeclarationVAT, models.DeclarationIncomeTax} {
		old, hasOld := existing[typ]
		next, hasNext := fresh[typ]

		switch {
		case hasOld && !old.IsDraft():
			// filed declarations stay as they are
		case hasOld && hasNext:
			old.TaxAmount = next.TaxAmount
			old.Data = next.Data
			old.UpdatedAt = now
			s.declarations[old.ID] = old
		case hasOld:
			delete(s.declarations, old.ID)
		case hasNext:
			s.declarations[next.ID] = next
		}
	}

	out := []models.Declaration{}
	for _, d := range s.declarations {
		if d.StatementID == statementID {
			out = append(out, d)
		}
	}
	sortDeclarations(out)
	return out, nil
}

func (s *Store) UpdateDraftDeclaration(ctx context.Context, id string, update models.DeclarationUpdate) (*models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !d.IsDraft() || d.SubmissionPending(s.now().UTC()) {
		return nil, models.ErrStateConflict
	}

	if update.TaxAmount != nil {
		d.TaxAmount = *update.TaxAmount
	}
	if update.Notes != nil {
		notes := *update.Notes
		d.Notes = &notes
	}
	d.UpdatedAt = s.now().UTC()
	s.declarations[id] = d
	return &d, nil
}

func (s *Store) ClaimDeclarationSubmission(ctx context.Context, id string, at time.Time) (*models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !d.IsDraft() || d.SubmissionPending(at) {
		return nil, models.ErrStateConflict
	}

	claimedAt := at.Truncate(time.Microsecond)
	d.SubmissionStartedAt = &claimedAt
	s.declarations[id] = d
	return &d, nil
}

func (s *Store) ReleaseDeclarationSubmission(ctx context.Context, id string, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[id]
	if !ok {
		return models.ErrNotFound
	}
	if d.SubmissionStartedAt == nil || !d.SubmissionStartedAt.Equal(claimedAt) {
		return models.ErrStateConflict
	}
	d.SubmissionStartedAt = nil
	s.declarations[id] = d
	return nil
}

func (s *Store) MarkDeclarationSubmitted(ctx context.Context, id string, rec models.SubmissionRecord) (*models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !d.IsDraft() || d.SubmissionStartedAt == nil || !d.SubmissionStartedAt.Equal(rec.ClaimedAt) || !d.TaxAmount.Equal(rec.TaxAmount) {
		return nil, models.ErrStateConflict
	}

	confirmation := rec.Confirmation
	at := rec.SubmittedAt
	d.Status = models.DeclarationSubmitted
	d.RSGeConfirmation = &confirmation
	d.SubmittedAt = &at
	d.SubmissionStartedAt = nil
	d.UpdatedAt = at
	s.declarations[id] = d
	return &d, nil
}

func (s *Store) RecordDeclarationDecision(ctx context.Context, id string, status models.DeclarationStatus, notes *string) (*models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.declarations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if d.Status != models.DeclarationSubmitted {
		return nil, models.ErrStateConflict
	}

	d.Status = status
	if notes != nil {
		v := *notes
		d.Notes = &v
	}
	d.UpdatedAt = s.now().UTC()
	s.declarations[id] = d
	return &d, nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) MarkNotificationEmailSent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].EmailSent = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Notification{}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID != userID {
			continue
		}
		out = append(out, s.notifications[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *Store) HasRecentNotification(ctx context.Context, userID string, typ models.NotificationType, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notifications {
		if n.UserID == userID && n.Type == typ && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
