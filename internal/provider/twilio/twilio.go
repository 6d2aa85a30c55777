package twilio

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
)

const (
	Alias = "twilio"

	defaultAPIBaseURL    = "https://api.twilio.com"
	defaultVerifyBaseURL = "https://verify.twilio.com"
	defaultTimeout       = 10 * time.Second

	verificationApproved = "approved"
)

// Statuses follows https://www.twilio.com/docs/voice/twiml#callstatus-values and the
// messaging status callback values.
var Statuses = provider.StatusTable{
	Call: map[string]domain.Status{
		"queued":      domain.StatusQueued,
		"initiated":   domain.StatusQueued,
		"ringing":     domain.StatusRinging,
		"in-progress": domain.StatusInProgress,
		"completed":   domain.StatusCompleted,
		"busy":        domain.StatusBusy,
		"failed":      domain.StatusFailed,
		"no-answer":   domain.StatusNoAnswer,
		"canceled":    domain.StatusCanceled,
	},
	SMS: map[string]domain.Status{
		"accepted":    domain.StatusAccepted,
		"queued":      domain.StatusQueued,
		"sending":     domain.StatusSending,
		"sent":        domain.StatusSent,
		"failed":      domain.StatusFailed,
		"delivered":   domain.StatusDelivered,
		"undelivered": domain.StatusUndelivered,
		"receiving":   domain.StatusReceiving,
		"received":    domain.StatusReceived,
		"read":        domain.StatusRead,
	},
}

// Config holds account credentials. VerifyServiceSID is optional; without it number
// verification is not supported.
type Config struct {
	AccountSID       string
	AuthToken        string
	FromNumber       string
	VerifyServiceSID string
	CallbackBaseURL  string
	APIBaseURL       string
	VerifyBaseURL    string
	Timeout          time.Duration
}

type resource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type verificationResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
}

// Provider talks to the Programmable Voice, Messaging and Verify REST APIs.
type Provider struct {
	client          *resty.Client
	cfg             Config
	callbackBaseURL string
}

var (
	_ provider.Provider           = (*Provider)(nil)
	_ provider.NotificationCaller = (*Provider)(nil)
	_ provider.NotificationSender = (*Provider)(nil)
	_ provider.StatusQuerier      = (*Provider)(nil)
	_ provider.CallbackDecoder    = (*Provider)(nil)
	_ provider.StatusTranslator   = (*Provider)(nil)
)

func New(cfg Config) (*Provider, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewWithClient(cfg, client)
}

func NewWithClient(cfg Config, client *resty.Client) (*Provider, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("twilio account sid is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.VerifyBaseURL == "" {
		cfg.VerifyBaseURL = defaultVerifyBaseURL
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	client.SetRetryCount(0)
	client.SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &Provider{
		client:          client,
		cfg:             cfg,
		callbackBaseURL: strings.TrimRight(strings.TrimSpace(cfg.CallbackBaseURL), "/"),
	}, nil
}

func (p *Provider) MakeCall(ctx context.Context, number string, text string) (string, error) {
	return p.createCall(ctx, number, text, "")
}

func (p *Provider) MakeNotificationCall(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error) {
	return p.createCall(ctx, number, text, p.callbackURL(domain.KindCall, record))
}

func (p *Provider) SendSMS(ctx context.Context, number string, text string) (string, error) {
	return p.createMessage(ctx, number, text, "")
}

func (p *Provider) SendNotificationSMS(ctx context.Context, number string, text string, record *domain.DeliveryRecord) (string, error) {
	return p.createMessage(ctx, number, text, p.callbackURL(domain.KindSMS, record))
}

func (p *Provider) SendVerificationSMS(ctx context.Context, number string) error {
	return p.startVerification(ctx, number, "sms")
}

func (p *Provider) MakeVerificationCall(ctx context.Context, number string) error {
	return p.startVerification(ctx, number, "call")
}

func (p *Provider) FinishVerification(ctx context.Context, number string, code string) (string, bool, error) {
	if p.cfg.VerifyServiceSID == "" {
		return "", false, provider.ErrNotSupported
	}

	form := url.Values{}
	form.Set("To", number)
	form.Set("Code", code)

	var result verificationResource
	response, err := p.client.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&result).
		Post(p.verifyURL("VerificationCheck"))
	// Verify answers 404 once the verification expired, was approved or hit max attempts.
	if err == nil && response != nil && response.StatusCode() == http.StatusNotFound {
		return "", false, nil
	}
	if err := provider.CheckResponse(response, err); err != nil {
		return "", false, err
	}

	if result.Status == verificationApproved || result.Valid {
		return number, true, nil
	}
	return "", false, nil
}

// FetchStatus reads the current call or message status.
func (p *Provider) FetchStatus(ctx context.Context, kind domain.RecordKind, vendorID string) (string, error) {
	collection := "Calls"
	if kind == domain.KindSMS {
		collection = "Messages"
	}

	var result resource
	response, err := p.client.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("%s/%s.json", p.accountURL(collection), url.PathEscape(vendorID)))
	if err := provider.CheckResponse(response, err); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (p *Provider) TranslateStatus(kind domain.RecordKind, vendorStatus string) domain.Status {
	return Statuses.TranslateStatus(kind, vendorStatus)
}

// DecodeCallback reads form-encoded status callbacks (CallSid/CallStatus or
// MessageSid/MessageStatus).
func (p *Provider) DecodeCallback(kind domain.RecordKind, contentType string, body []byte) (domain.StatusCallback, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.StatusCallback{}, fmt.Errorf("%w: invalid callback body: %v", domain.ErrValidation, err)
	}

	callback := domain.StatusCallback{
		Kind:     kind,
		RecordID: values.Get(provider.RecordIDParam),
		Payload:  make(map[string]string, len(values)),
	}
	for key := range values {
		callback.Payload[key] = values.Get(key)
	}

	switch kind {
	case domain.KindCall:
		callback.VendorCorrelationID = values.Get("CallSid")
		callback.VendorStatus = values.Get("CallStatus")
	case domain.KindSMS:
		callback.VendorCorrelationID = values.Get("MessageSid")
		callback.VendorStatus = values.Get("MessageStatus")
		if callback.VendorStatus == "" {
			callback.VendorStatus = values.Get("SmsStatus")
		}
	default:
		return domain.StatusCallback{}, fmt.Errorf("%w: invalid kind %q", domain.ErrValidation, kind)
	}

	return callback, nil
}

func (p *Provider) createCall(ctx context.Context, number string, text string, callbackURL string) (string, error) {
	form := url.Values{}
	form.Set("To", number)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Twiml", sayTwiml(text))
	if callbackURL != "" {
		form.Set("StatusCallback", callbackURL)
		for _, event := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", event)
		}
	}

	return p.create(ctx, p.accountURL("Calls")+".json", form)
}

func (p *Provider) createMessage(ctx context.Context, number string, text string, callbackURL string) (string, error) {
	form := url.Values{}
	form.Set("To", number)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Body", text)
	if callbackURL != "" {
		form.Set("StatusCallback", callbackURL)
	}

	return p.create(ctx, p.accountURL("Messages")+".json", form)
}

func (p *Provider) create(ctx context.Context, endpoint string, form url.Values) (string, error) {
	var result resource
	response, err := p.client.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&result).
		Post(endpoint)
	if err := provider.CheckResponse(response, err); err != nil {
		return "", err
	}

	sid := strings.TrimSpace(result.SID)
	if sid == "" {
		return "", &provider.SubmissionError{
			StatusCode: response.StatusCode(),
			Message:    "twilio response carried no sid",
		}
	}
	return sid, nil
}

func (p *Provider) startVerification(ctx context.Context, number string, channel string) error {
	if p.cfg.VerifyServiceSID == "" {
		return provider.ErrNotSupported
	}

	form := url.Values{}
	form.Set("To", number)
	form.Set("Channel", channel)

	response, err := p.client.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		Post(p.verifyURL("Verifications"))
	return provider.CheckResponse(response, err)
}

func (p *Provider) accountURL(collection string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", strings.TrimRight(p.cfg.APIBaseURL, "/"), p.cfg.AccountSID, collection)
}

func (p *Provider) verifyURL(resource string) string {
	return fmt.Sprintf("%s/v2/Services/%s/%s", strings.TrimRight(p.cfg.VerifyBaseURL, "/"), p.cfg.VerifyServiceSID, resource)
}

func (p *Provider) callbackURL(kind domain.RecordKind, record *domain.DeliveryRecord) string {
	if p.callbackBaseURL == "" || record == nil {
		return ""
	}
	query := url.Values{}
	query.Set(provider.RecordIDParam, record.ID)
	return fmt.Sprintf("%s/webhooks/%s/%s?%s", p.callbackBaseURL, Alias, strings.ToLower(kind.String()), query.Encode())
}

func sayTwiml(text string) string {
	var escaped strings.Builder
	_ = xml.EscapeText(&escaped, []byte(text))
	return fmt.Sprintf("<Response><Say>%s</Say></Response>", escaped.String())
}
