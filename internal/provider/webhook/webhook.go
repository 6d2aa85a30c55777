package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
)

const (
	Alias          = "webhook"
	defaultTimeout = 10 * time.Second
)

type sendRequest struct {
	To          string `json:"to"`
	Channel     string `json:"channel"`
	Content     string `json:"content"`
	Reference   string `json:"reference,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type callbackPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Config configures the generic JSON webhook adapter.
// CallEndpoint is optional; without it calls are not supported.
type Config struct {
	SMSEndpoint     string
	CallEndpoint    string
	CallbackBaseURL string
	Timeout         time.Duration
}

// Provider delivers calls and SMS by posting JSON to operator-run endpoints and
// verifies numbers with locally tracked codes.
type Provider struct {
	provider.Unimplemented

	client          *resty.Client
	smsEndpoint     string
	callEndpoint    string
	callbackBaseURL string
	verifier        *provider.LocalVerifier
	statuses        provider.StatusTable
}

var (
	_ provider.Provider           = (*Provider)(nil)
	_ provider.NotificationCaller = (*Provider)(nil)
	_ provider.NotificationSender = (*Provider)(nil)
	_ provider.CallbackDecoder    = (*Provider)(nil)
	_ provider.StatusTranslator   = (*Provider)(nil)
)

func New(cfg Config, verifier *provider.LocalVerifier) (*Provider, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewWithClient(cfg, verifier, client)
}

func NewWithClient(cfg Config, verifier *provider.LocalVerifier, client *resty.Client) (*Provider, error) {
	smsEndpoint, err := parseEndpoint(cfg.SMSEndpoint, true)
	if err != nil {
		return nil, fmt.Errorf("invalid sms endpoint: %w", err)
	}
	callEndpoint, err := parseEndpoint(cfg.CallEndpoint, false)
	if err != nil {
		return nil, fmt.Errorf("invalid call endpoint: %w", err)
	}
	callbackBaseURL, err := parseEndpoint(cfg.CallbackBaseURL, false)
	if err != nil {
		return nil, fmt.Errorf("invalid callback base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)

	return &Provider{
		client:          client,
		smsEndpoint:     smsEndpoint,
		callEndpoint:    callEndpoint,
		callbackBaseURL: strings.TrimRight(callbackBaseURL, "/"),
		verifier:        verifier,
		statuses:        provider.CanonicalStatusTable(),
	}, nil
}

func (p *Provider) MakeCall(ctx context.Context, number string, text string) (string, error) {
	return p.send(ctx, domain.KindCall, number, text, nil)
}

func (p *Provider) MakeNotificationCall(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error) {
	return p.send(ctx, domain.KindCall, number, text, record)
}

func (p *Provider) SendSMS(ctx context.Context, number string, text string) (string, error) {
	return p.send(ctx, domain.KindSMS, number, text, nil)
}

func (p *Provider) SendNotificationSMS(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error) {
	return p.send(ctx, domain.KindSMS, number, text, record)
}

func (p *Provider) SendVerificationSMS(ctx context.Context, number string) error {
	if p.verifier == nil {
		return provider.ErrNotSupported
	}

	_, err := p.verifier.Issue(ctx, number, func(ctx context.Context, code string) error {
		_, err := p.send(ctx, domain.KindSMS, number, provider.VerificationMessage(code), nil)
		return err
	})
	return err
}

func (p *Provider) MakeVerificationCall(ctx context.Context, number string) error {
	if p.verifier == nil || p.callEndpoint == "" {
		return provider.ErrNotSupported
	}

	_, err := p.verifier.Issue(ctx, number, func(ctx context.Context, code string) error {
		// Spaced digits are read one by one by text-to-speech engines.
		spoken := provider.VerificationMessage(strings.Join(strings.Split(code, ""), " "))
		_, err := p.send(ctx, domain.KindCall, number, spoken, nil)
		return err
	})
	return err
}

func (p *Provider) FinishVerification(ctx context.Context, number string, code string) (string, bool, error) {
	if p.verifier == nil {
		return "", false, provider.ErrNotSupported
	}
	return p.verifier.Verify(ctx, number, code)
}

func (p *Provider) TranslateStatus(kind domain.RecordKind, vendorStatus string) domain.Status {
	return p.statuses.TranslateStatus(kind, vendorStatus)
}

// DecodeCallback reads {"id","status","reference"} JSON bodies.
func (p *Provider) DecodeCallback(kind domain.RecordKind, contentType string, body []byte) (domain.StatusCallback, error) {
	var payload callbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.StatusCallback{}, fmt.Errorf("%w: invalid callback body: %v", domain.ErrValidation, err)
	}

	return domain.StatusCallback{
		Kind:                kind,
		RecordID:            strings.TrimSpace(payload.Reference),
		VendorCorrelationID: strings.TrimSpace(payload.ID),
		VendorStatus:        strings.TrimSpace(payload.Status),
		Payload: map[string]string{
			"id":        payload.ID,
			"status":    payload.Status,
			"reference": payload.Reference,
		},
	}, nil
}

func (p *Provider) send(ctx context.Context, kind domain.RecordKind, number string, text string, record *domain.DeliveryRecord) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("provider is not initialized")
	}

	endpoint := p.smsEndpoint
	if kind == domain.KindCall {
		endpoint = p.callEndpoint
	}
	if endpoint == "" {
		return "", provider.ErrNotSupported
	}

	reqBody := sendRequest{
		To:      number,
		Channel: strings.ToLower(kind.String()),
		Content: text,
	}
	if record != nil {
		reqBody.Reference = record.ID
		reqBody.CallbackURL = p.callbackURL(kind, record.ID)
	}

	var result sendResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&result).
		Post(endpoint)
	if err := provider.CheckResponse(response, err); err != nil {
		return "", err
	}

	if id := strings.TrimSpace(result.ID); id != "" {
		return id, nil
	}
	if id := messageIDFromHeaders(response); id != "" {
		return id, nil
	}

	return "", &provider.SubmissionError{
		StatusCode: response.StatusCode(),
		Message:    "provider response carried no message id",
	}
}

func (p *Provider) callbackURL(kind domain.RecordKind, recordID string) string {
	if p.callbackBaseURL == "" {
		return ""
	}
	query := url.Values{}
	query.Set(provider.RecordIDParam, recordID)
	return fmt.Sprintf("%s/webhooks/%s/%s?%s", p.callbackBaseURL, Alias, strings.ToLower(kind.String()), query.Encode())
}

func messageIDFromHeaders(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}

func parseEndpoint(raw string, required bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if required {
			return "", fmt.Errorf("endpoint is required")
		}
		return "", nil
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
