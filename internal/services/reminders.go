package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/rs/zerolog"
)

// DeadlineDay is the day of the month declarations for the previous month are due
const DeadlineDay = 15

// ReminderReport summarizes one reminder run
type ReminderReport struct {
	Checked       int       `json:"checked"`
	Notified      int       `json:"notified"`
	RemindersSent int       `json:"reminders_sent"`
	Date          time.Time `json:"date"`
}

// ReminderService nudges owners whose previous month is not filed yet
type ReminderService struct {
	repo     Repository
	notifier *Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewReminderService creates a reminder service
func NewReminderService(repo Repository, notifier *Notifier, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		repo:     repo,
		notifier: notifier,
		log:      log.With().Str("component", "reminders").Logger(),
		now:      time.Now,
	}
}

// FilingPeriod returns the period due this month and its deadline
func FilingPeriod(now time.Time) (month, year int, deadline time.Time) {
	deadline = time.Date(now.Year(), now.Month(), DeadlineDay, 0, 0, 0, 0, now.Location())
	prev := deadline.AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year(), deadline
}

// SendDeadlineReminders reminds every opted-in business that still has
// drafts or no statement for the previous month. A user gets at most one
// reminder per 24 hours.
func (s *ReminderService) SendDeadlineReminders(ctx context.Context) (*ReminderReport, error) {
	now := s.now()
	month, year, deadline := FilingPeriod(now)
	daysLeft := int(math.Ceil(deadline.Sub(now).Hours() / 24))

	businesses, err := s.repo.ListReminderBusinesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}

	report := &ReminderReport{Date: now.UTC()}
	for i := range businesses {
		biz := &businesses[i]
		if !biz.RemindersEnabled || biz.ReminderDaysBefore < daysLeft {
			continue
		}
		report.Checked++

		due, err := s.filingOutstanding(ctx, biz, month, year)
		if err != nil {
			s.log.Error().Err(err).Str("business_id", biz.ID).Msg("failed to check filing status")
			continue
		}
		if !due {
			continue
		}

		recent, err := s.repo.HasRecentNotification(ctx, biz.UserID, models.NotificationDeadlineReminder, now.Add(-24*time.Hour))
		if err != nil {
			s.log.Error().Err(err).Str("user_id", biz.UserID).Msg("failed to check recent reminders")
			continue
		}
		if recent {
			continue
		}

		report.Notified++
		if s.notifier.DeadlineReminder(ctx, biz, month, year, deadline, daysLeft) {
			report.RemindersSent++
		}
	}

	s.log.Info().
		Int("checked", report.Checked).
		Int("notified", report.Notified).
		Int("emails", report.RemindersSent).
		Int("period_month", month).
		Int("period_year", year).
		Msg("deadline reminders run")

	return report, nil
}

func (s *ReminderService) filingOutstanding(ctx context.Context, biz *models.Business, month, year int) (bool, error) {
	decls, err := s.repo.ListPeriodDeclarations(ctx, biz.ID, month, year)
	if err != nil {
		return false, err
	}
	for _, d := range decls {
		if d.IsDraft() {
			return true, nil
		}
	}

	hasStatement, err := s.repo.HasStatementForPeriod(ctx, biz.ID, month, year)
	if err != nil {
		return false, err
	}
	return !hasStatement, nil
}
