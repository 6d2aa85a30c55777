package twilio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/phone-notifier/internal/domain"
	"github.com/kursadbilgin/phone-notifier/internal/provider"
)

type capturedRequest struct {
	method string
	path   string
	form   url.Values
	user   string
}

type fakeTwilio struct {
	mu       sync.Mutex
	requests []capturedRequest
	server   *httptest.Server
}

func newFakeTwilio(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) *fakeTwilio {
	t.Helper()

	f := &fakeTwilio{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		user, _, _ := r.BasicAuth()
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{method: r.Method, path: r.URL.Path, form: r.PostForm, user: user})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		handle(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTwilio) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no request captured")
	}
	return f.requests[len(f.requests)-1]
}

func newTestProvider(t *testing.T, serverURL string, verifySID string) *Provider {
	t.Helper()

	p, err := New(Config{
		AccountSID:       "AC123",
		AuthToken:        "secret",
		FromNumber:       "+15550000000",
		VerifyServiceSID: verifySID,
		CallbackBaseURL:  "https://notifier.example.com",
		APIBaseURL:       serverURL,
		VerifyBaseURL:    serverURL,
		Timeout:          time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestMakeNotificationCall(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	})
	p := newTestProvider(t, fake.server.URL, "")

	record := domain.NewDeliveryRecord("rec-1", domain.KindCall, "+15551234567", Alias, time.Now())
	if err := provider.NotificationCall(context.Background(), p, record.TargetNumber, "Tom & Jerry <3", record); err != nil {
		t.Fatalf("NotificationCall() error = %v", err)
	}
	if record.VendorCorrelationID != "CA42" {
		t.Fatalf("VendorCorrelationID = %q, want CA42", record.VendorCorrelationID)
	}

	got := fake.last(t)
	if got.path != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Fatalf("path = %q", got.path)
	}
	if got.user != "AC123" {
		t.Fatalf("basic auth user = %q, want AC123", got.user)
	}
	if got.form.Get("To") != "+15551234567" || got.form.Get("From") != "+15550000000" {
		t.Fatalf("form = %v", got.form)
	}
	if want := "<Response><Say>Tom &amp; Jerry &lt;3</Say></Response>"; got.form.Get("Twiml") != want {
		t.Fatalf("Twiml = %q, want %q", got.form.Get("Twiml"), want)
	}
	if want := "https://notifier.example.com/webhooks/twilio/call?record_id=rec-1"; got.form.Get("StatusCallback") != want {
		t.Fatalf("StatusCallback = %q, want %q", got.form.Get("StatusCallback"), want)
	}
	if events := got.form["StatusCallbackEvent"]; len(events) != 4 {
		t.Fatalf("StatusCallbackEvent = %v, want 4 events", events)
	}
}

func TestSendSMSWithoutCallback(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM7","status":"accepted"}`))
	})
	p := newTestProvider(t, fake.server.URL, "")

	sid, err := p.SendSMS(context.Background(), "+15551234567", "test message")
	if err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	if sid != "SM7" {
		t.Fatalf("SendSMS() sid = %q, want SM7", sid)
	}

	got := fake.last(t)
	if got.path != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Fatalf("path = %q", got.path)
	}
	if got.form.Get("Body") != "test message" {
		t.Fatalf("Body = %q", got.form.Get("Body"))
	}
	if got.form.Has("StatusCallback") {
		t.Fatal("plain SMS must not register a status callback")
	}
}

func TestSendSMSRejected(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	})
	p := newTestProvider(t, fake.server.URL, "")

	_, err := p.SendSMS(context.Background(), "+15551234567", "hi")
	if !errors.Is(err, provider.ErrSubmissionFailed) {
		t.Fatalf("SendSMS() error = %v, want ErrSubmissionFailed", err)
	}
	if provider.IsTransient(err) {
		t.Fatal("400 must be permanent")
	}
}

func TestVerificationNotSupportedWithoutService(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, "http://127.0.0.1:1", "")

	if err := p.SendVerificationSMS(context.Background(), "+15551234567"); !errors.Is(err, provider.ErrNotSupported) {
		t.Fatalf("SendVerificationSMS() error = %v, want ErrNotSupported", err)
	}
	if err := p.MakeVerificationCall(context.Background(), "+15551234567"); !errors.Is(err, provider.ErrNotSupported) {
		t.Fatalf("MakeVerificationCall() error = %v, want ErrNotSupported", err)
	}
	if _, _, err := p.FinishVerification(context.Background(), "+15551234567", "123456"); !errors.Is(err, provider.ErrNotSupported) {
		t.Fatalf("FinishVerification() error = %v, want ErrNotSupported", err)
	}
}

func TestVerificationFlow(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/Verifications"):
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sid":"VE1","status":"pending"}`))
		case strings.HasSuffix(r.URL.Path, "/VerificationCheck"):
			status := "pending"
			if r.PostForm.Get("Code") == "482913" {
				status = "approved"
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"sid":"VE1","status":"` + status + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	p := newTestProvider(t, fake.server.URL, "VA9")

	if err := p.MakeVerificationCall(context.Background(), "+15551234567"); err != nil {
		t.Fatalf("MakeVerificationCall() error = %v", err)
	}
	got := fake.last(t)
	if got.path != "/v2/Services/VA9/Verifications" || got.form.Get("Channel") != "call" {
		t.Fatalf("verification request = %+v", got)
	}

	if _, ok, err := p.FinishVerification(context.Background(), "+15551234567", "000000"); err != nil || ok {
		t.Fatalf("FinishVerification(wrong) = ok %v, err %v", ok, err)
	}

	verified, ok, err := p.FinishVerification(context.Background(), "+15551234567", "482913")
	if err != nil {
		t.Fatalf("FinishVerification() error = %v", err)
	}
	if !ok || verified != "+15551234567" {
		t.Fatalf("FinishVerification() = (%q, %v)", verified, ok)
	}
}

func TestFinishVerificationExpired(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":20404}`))
	})
	p := newTestProvider(t, fake.server.URL, "VA9")

	_, ok, err := p.FinishVerification(context.Background(), "+15551234567", "482913")
	if err != nil {
		t.Fatalf("FinishVerification() error = %v", err)
	}
	if ok {
		t.Fatal("expired verification must not succeed")
	}
}

func TestFetchStatus(t *testing.T) {
	t.Parallel()

	fake := newFakeTwilio(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sid":"SM7","status":"delivered"}`))
	})
	p := newTestProvider(t, fake.server.URL, "")

	status, err := p.FetchStatus(context.Background(), domain.KindSMS, "SM7")
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if status != "delivered" {
		t.Fatalf("FetchStatus() = %q, want delivered", status)
	}

	got := fake.last(t)
	if got.method != http.MethodGet || got.path != "/2010-04-01/Accounts/AC123/Messages/SM7.json" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
}

func TestDecodeCallback(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, "http://127.0.0.1:1", "")

	testCases := []struct {
		name       string
		kind       domain.RecordKind
		body       string
		wantID     string
		wantStatus string
		wantRecord string
	}{
		{
			name:       "call",
			kind:       domain.KindCall,
			body:       "CallSid=CA42&CallStatus=in-progress&record_id=rec-1",
			wantID:     "CA42",
			wantStatus: "in-progress",
			wantRecord: "rec-1",
		},
		{
			name:       "message",
			kind:       domain.KindSMS,
			body:       "MessageSid=SM7&MessageStatus=delivered",
			wantID:     "SM7",
			wantStatus: "delivered",
		},
		{
			name:       "legacy sms status",
			kind:       domain.KindSMS,
			body:       "MessageSid=SM8&SmsStatus=sent",
			wantID:     "SM8",
			wantStatus: "sent",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			callback, err := p.DecodeCallback(tc.kind, "application/x-www-form-urlencoded", []byte(tc.body))
			if err != nil {
				t.Fatalf("DecodeCallback() error = %v", err)
			}
			if callback.VendorCorrelationID != tc.wantID || callback.VendorStatus != tc.wantStatus || callback.RecordID != tc.wantRecord {
				t.Fatalf("DecodeCallback() = %+v", callback)
			}
		})
	}
}

func TestTranslateStatus(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, "http://127.0.0.1:1", "")

	testCases := []struct {
		kind   domain.RecordKind
		vendor string
		want   domain.Status
	}{
		{kind: domain.KindCall, vendor: "ringing", want: domain.StatusRinging},
		{kind: domain.KindCall, vendor: "no-answer", want: domain.StatusNoAnswer},
		{kind: domain.KindCall, vendor: "delivered", want: domain.StatusUnknown},
		{kind: domain.KindSMS, vendor: "Undelivered", want: domain.StatusUndelivered},
		{kind: domain.KindSMS, vendor: "read", want: domain.StatusRead},
		{kind: domain.KindSMS, vendor: "scheduled", want: domain.StatusUnknown},
	}

	for _, tc := range testCases {
		if got := p.TranslateStatus(tc.kind, tc.vendor); got != tc.want {
			t.Fatalf("TranslateStatus(%s, %q) = %s, want %s", tc.kind, tc.vendor, got, tc.want)
		}
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{AuthToken: "x", FromNumber: "+1555"}); err == nil {
		t.Fatal("expected error for missing account sid")
	}
	if _, err := New(Config{AccountSID: "AC1", FromNumber: "+1555"}); err == nil {
		t.Fatal("expected error for missing auth token")
	}
	if _, err := New(Config{AccountSID: "AC1", AuthToken: "x"}); err == nil {
		t.Fatal("expected error for missing from number")
	}
}
