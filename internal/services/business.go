package services

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Georgian TINs are 9 digits for companies, 11 for individuals
var tinPattern = regexp.MustCompile(`^\d{9}$|^\d{11}$`)

// DefaultReminderDaysBefore is how early deadline reminders start
const DefaultReminderDaysBefore = 3

// BusinessInput is the data a user provides when registering a business
type BusinessInput struct {
	CompanyName        string `json:"company_name"`
	TIN                string `json:"tin"`
	OwnerName          string `json:"owner_name"`
	Email              string `json:"email"`
	RSGeUsername       string `json:"rs_ge_username"`
	RSGePassword       string `json:"rs_ge_password"`
	RemindersEnabled   *bool  `json:"reminders_enabled"`
	ReminderDaysBefore *int   `json:"reminder_days_before"`
}

// ValidTIN reports whether tin has the Georgian TIN format
func ValidTIN(tin string) bool {
	return tinPattern.MatchString(tin)
}

// BusinessService manages business profiles
type BusinessService struct {
	repo    Repository
	vault   CredentialVault
	gateway Gateway
	log     zerolog.Logger
	now     func() time.Time
}

// NewBusinessService creates a business service
func NewBusinessService(repo Repository, vault CredentialVault, gateway Gateway, log zerolog.Logger) *BusinessService {
	return &BusinessService{
		repo:    repo,
		vault:   vault,
		gateway: gateway,
		log:     log.With().Str("component", "business").Logger(),
		now:     time.Now,
	}
}

// Create registers the user's business. A user has at most one.
func (s *BusinessService) Create(ctx context.Context, userID string, in BusinessInput) (*models.Business, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.TIN = strings.TrimSpace(in.TIN)

	if in.CompanyName == "" {
		return nil, fmt.Errorf("%w: company name is required", models.ErrValidation)
	}
	if in.TIN == "" {
		return nil, fmt.Errorf("%w: TIN is required", models.ErrValidation)
	}
	if !ValidTIN(in.TIN) {
		return nil, fmt.Errorf("%w: invalid TIN format, must be 9 or 11 digits", models.ErrValidation)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return nil, fmt.Errorf("%w: invalid email address", models.ErrValidation)
		}
	}

	biz := &models.Business{
		ID:                 uuid.NewString(),
		UserID:             userID,
		CompanyName:        in.CompanyName,
		TIN:                in.TIN,
		OwnerName:          strings.TrimSpace(in.OwnerName),
		Email:              strings.TrimSpace(in.Email),
		RemindersEnabled:   true,
		ReminderDaysBefore: DefaultReminderDaysBefore,
	}
	if in.RemindersEnabled != nil {
		biz.RemindersEnabled = *in.RemindersEnabled
	}
	if in.ReminderDaysBefore != nil {
		if *in.ReminderDaysBefore < 0 || *in.ReminderDaysBefore > 31 {
			return nil, fmt.Errorf("%w: reminder_days_before must be between 0 and 31", models.ErrValidation)
		}
		biz.ReminderDaysBefore = *in.ReminderDaysBefore
	}

	// Credentials are stored encrypted only
	var err error
	if in.RSGeUsername != "" {
		if biz.RSGeUsername, err = s.vault.Encrypt(in.RSGeUsername); err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
	}
	if in.RSGePassword != "" {
		if biz.RSGePassword, err = s.vault.Encrypt(in.RSGePassword); err != nil {
			return nil, fmt.Errorf("encrypt credentials: %w", err)
		}
	}

	now := s.now().UTC()
	biz.CreatedAt = now
	biz.UpdatedAt = now

	if err := s.repo.CreateBusiness(ctx, biz); err != nil {
		return nil, err
	}

	s.log.Info().Str("business_id", biz.ID).Str("user_id", userID).Bool("has_credentials", biz.HasCredentials()).Msg("business created")
	return biz, nil
}

// ForUser returns the user's business
func (s *BusinessService) ForUser(ctx context.Context, userID string) (*models.Business, error) {
	return s.repo.GetBusinessByUser(ctx, userID)
}

// VerifyTIN checks the TIN format locally, then with the tax authority registry
func (s *BusinessService) VerifyTIN(ctx context.Context, tin string) (bool, error) {
	if !ValidTIN(tin) {
		return false, fmt.Errorf("%w: invalid TIN format, must be 9 or 11 digits", models.ErrValidation)
	}
	return s.gateway.VerifyTIN(ctx, tin)
}
