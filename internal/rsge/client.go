package rsge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultURL is the tax authority service endpoint
const DefaultURL = "https://rs.ge/api/service"

var (
	ErrServiceUnavailable = errors.New("rs.ge service temporarily unavailable")
	ErrInvalidCredentials = errors.New("Invalid rs.ge credentials")
	ErrSubmissionFailed   = errors.New("Failed to submit declaration")
)

// Error is a failed gateway call. Its message is one of the sentinel
// messages so it can be shown to users; Detail carries the raw cause.
type Error struct {
	Kind   error
	Op     string
	Status int
	Detail string
}

func (e *Error) Error() string { return e.Kind.Error() }

func (e *Error) Unwrap() error { return e.Kind }

// Credentials are decrypted service user credentials
type Credentials struct {
	Username string
	Password string
}

// Submission is a declaration ready to be filed
type Submission struct {
	Type      string // VAT or INCOME_TAX
	TIN       string
	Month     int
	Year      int
	TaxAmount decimal.Decimal
	FormData  any
}

// Receipt is the authority's answer to an accepted submission
type Receipt struct {
	Confirmation string
	// Synthesized is set when the authority did not return a confirmation
	Synthesized bool
}

const (
	sessionTTL = 30 * time.Minute
	tinTTL     = 24 * time.Hour
)

// Client talks to the rs.ge SOAP service.
// Sessions are cached per credential pair; TIN lookups are cached for a day.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	sessions   *cache.Cache
	tins       *cache.Cache
	log        zerolog.Logger
	now        func() time.Time
}

// NewClient creates a client. ratePerSecond <= 0 disables rate limiting.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond int, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = ratePerSecond
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		sessions:   cache.New(sessionTTL, 2*sessionTTL),
		tins:       cache.New(tinTTL, time.Hour),
		log:        log.With().Str("component", "rsge").Logger(),
		now:        time.Now,
	}
}

// Authenticate exchanges credentials for a service token and caches it
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	body, err := c.call(ctx, actionAuthenticate, authenticateRequest{
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return "", err
	}

	token, ok, err := findElement(body, "token")
	if err != nil || !ok || token == "" {
		return "", &Error{Kind: ErrInvalidCredentials, Op: actionAuthenticate, Detail: "no token in response"}
	}

	c.sessions.Set(sessionKey(creds), token, cache.DefaultExpiration)
	return token, nil
}

// TestConnection checks that creds authenticate
func (c *Client) TestConnection(ctx context.Context, creds Credentials) error {
	_, err := c.Authenticate(ctx, creds)
	return err
}

// VerifyTIN asks the registry whether tin belongs to a registered taxpayer
func (c *Client) VerifyTIN(ctx context.Context, tin string) (bool, error) {
	if v, ok := c.tins.Get(tin); ok {
		return v.(bool), nil
	}

	body, err := c.call(ctx, actionVerifyTIN, verifyTINRequest{TIN: tin})
	if err != nil {
		return false, err
	}

	valid, _, err := findElement(body, "valid")
	if err != nil {
		return false, &Error{Kind: ErrServiceUnavailable, Op: actionVerifyTIN, Detail: err.Error()}
	}

	result := strings.EqualFold(valid, "true")
	c.tins.Set(tin, result, cache.DefaultExpiration)
	return result, nil
}

// Submit files a declaration. A cached session rejected with 401 is dropped
// and the submission retried once with a fresh token.
func (c *Client) Submit(ctx context.Context, creds Credentials, sub Submission) (*Receipt, error) {
	formData, err := json.Marshal(sub.FormData)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	req := submitRequest{
		Declaration: declarationBlock{
			Type:      sub.Type,
			TIN:       sub.TIN,
			Month:     sub.Month,
			Year:      sub.Year,
			TaxAmount: sub.TaxAmount.StringFixed(2),
			FormData:  string(formData),
		},
	}

	token, cached, err := c.session(ctx, creds)
	if err != nil {
		return nil, err
	}

	req.Token = token
	body, err := c.call(ctx, actionSubmit, req)
	if err != nil && cached && errors.Is(err, ErrInvalidCredentials) {
		c.log.Info().Str("tin", sub.TIN).Msg("session rejected, re-authenticating")
		c.sessions.Delete(sessionKey(creds))

		if req.Token, err = c.Authenticate(ctx, creds); err != nil {
			return nil, err
		}
		body, err = c.call(ctx, actionSubmit, req)
	}
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) && gwErr.Op == actionSubmit && errors.Is(err, ErrInvalidCredentials) {
			c.sessions.Delete(sessionKey(creds))
		}
		return nil, err
	}

	confirmation, _, _ := findElement(body, "confirmation")
	if confirmation != "" {
		return &Receipt{Confirmation: confirmation}, nil
	}

	c.log.Warn().Str("tin", sub.TIN).Int("month", sub.Month).Int("year", sub.Year).
		Msg("no confirmation in response, synthesizing one")
	return &Receipt{Confirmation: c.synthesizeConfirmation(sub), Synthesized: true}, nil
}

func (c *Client) session(ctx context.Context, creds Credentials) (string, bool, error) {
	if token, ok := c.sessions.Get(sessionKey(creds)); ok {
		return token.(string), true, nil
	}
	token, err := c.Authenticate(ctx, creds)
	return token, false, err
}

// synthesizeConfirmation builds RS-YYYY-MM-XXXXXXXX, stable for a given
// taxpayer, period, type and submission instant
func (c *Client) synthesizeConfirmation(sub Submission) string {
	name := fmt.Sprintf("%s|%d-%02d|%s|%d", sub.TIN, sub.Year, sub.Month, sub.Type, c.now().UnixNano())
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	return fmt.Sprintf("RS-%d-%02d-%s", sub.Year, sub.Month, strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]))
}

func sessionKey(creds Credentials) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(creds.Username+"\x00"+creds.Password)).String()
}

// call posts one SOAP request and classifies failures
func (c *Client) call(ctx context.Context, action string, payload any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: ErrServiceUnavailable, Op: action, Detail: err.Error()}
	}

	envelope, err := marshalEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("action", action).Msg("rs.ge request failed")
		return nil, &Error{Kind: classifyTransportError(err), Op: action, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Kind: ErrServiceUnavailable, Op: action, Status: resp.StatusCode, Detail: err.Error()}
	}

	c.log.Debug().Str("action", action).Int("status", resp.StatusCode).
		Dur("duration", c.now().Sub(start)).Msg("rs.ge call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Kind: ErrInvalidCredentials, Op: action, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: ErrServiceUnavailable, Op: action, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		fault, _, _ := findElement(body, "faultstring")
		return nil, &Error{Kind: ErrSubmissionFailed, Op: action, Status: resp.StatusCode, Detail: fault}
	}

	if fault, ok, _ := findElement(body, "faultstring"); ok {
		return nil, &Error{Kind: ErrSubmissionFailed, Op: action, Status: resp.StatusCode, Detail: fault}
	}

	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ErrServiceUnavailable
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return ErrServiceUnavailable
	}
	return ErrSubmissionFailed
}
