//go:build !integration

package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mpesa-payment-service/internal/config"
	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/ports/adapter"
)

const (
	testShortcode = "174379"
	testPasskey   = "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
)

func testConfig(baseURL string) *config.MpesaConfig {
	return &config.MpesaConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Passkey:        testPasskey,
		Shortcode:      testShortcode,
		CallbackURL:    "https://example.com/callback/",
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
	}
}

func newTestGateway(t *testing.T, baseURL string) *DarajaGateway {
	t.Helper()
	g, err := NewDarajaGateway(testConfig(baseURL))
	if err != nil {
		t.Fatalf("NewDarajaGateway failed: %v", err)
	}
	return g
}

func TestStkPassword(t *testing.T) {
	// base64 of the exact concatenation shortcode+passkey+timestamp, no separators.
	const want = "MTc0Mzc5YmZiMjc5ZjlhYTliZGJjZjE1OGU5N2RkNzFhNDY3Y2QyZTBjODkzMDU5YjEwZjc4ZTZiNzJhZGExZWQyYzkxOTIwMjQwMTAxMTIwMDAw"
	got := stkPassword(testShortcode, testPasskey, "20240101120000")
	if got != want {
		t.Errorf("password mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestFetchToken(t *testing.T) {
	t.Run("should send basic auth and return the token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/oauth/v1/generate" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("grant_type") != "client_credentials" {
				t.Errorf("missing grant_type query parameter")
			}
			user, pass, ok := r.BasicAuth()
			if !ok || user != "key" || pass != "secret" {
				t.Errorf("expected basic auth key:secret, got %s:%s", user, pass)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": "token-123", "expires_in": "3599"}`))
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		tok, validFor, err := g.FetchToken(context.Background())
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if tok != "token-123" {
			t.Errorf("expected token 'token-123', got %q", tok)
		}
		if validFor != 3599*time.Second {
			t.Errorf("expected validity 3599s, got %s", validFor)
		}
	})

	t.Run("should fail with AuthFailed when token field is missing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errorCode": "404.001.03", "errorMessage": "Invalid Access Token"}`))
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		if _, _, err := g.FetchToken(context.Background()); !errors.Is(err, domain.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("should fail with AuthFailed when the endpoint is unreachable", func(t *testing.T) {
		g := newTestGateway(t, "http://127.0.0.1:1")
		if _, _, err := g.FetchToken(context.Background()); !errors.Is(err, domain.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})
}

func TestStkPush(t *testing.T) {
	pushReq := adapter.StkPushRequest{
		PhoneNumber:      "254712345678",
		Amount:           100,
		AccountReference: "ACC-1",
		Description:      "order 42",
	}

	t.Run("should build the exact gateway request body", func(t *testing.T) {
		var captured stkPushBody
		var bearer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
				t.Errorf("failed to decode push body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_191220191020363925",
				"ResponseCode": "0",
				"ResponseDescription": "Success. Request accepted for processing",
				"CustomerMessage": "Success. Request accepted for processing"
			}`))
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		g.tokens = staticToken("token-123")
		g.now = func() time.Time {
			return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		}

		resp, err := g.StkPush(context.Background(), pushReq)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if resp.CheckoutRequestID != "ws_CO_191220191020363925" {
			t.Errorf("unexpected checkout request id %q", resp.CheckoutRequestID)
		}
		if bearer != "Bearer token-123" {
			t.Errorf("expected bearer auth, got %q", bearer)
		}
		if captured.PartyA != "254712345678" || captured.PhoneNumber != "254712345678" {
			t.Errorf("expected phone in both PartyA and PhoneNumber, got %q / %q", captured.PartyA, captured.PhoneNumber)
		}
		if captured.PartyB != testShortcode || captured.BusinessShortCode != testShortcode {
			t.Errorf("expected shortcode in PartyB and BusinessShortCode")
		}
		if captured.TransactionType != "CustomerPayBillOnline" {
			t.Errorf("unexpected transaction type %q", captured.TransactionType)
		}
		if captured.Timestamp != "20240101120000" {
			t.Errorf("unexpected timestamp %q", captured.Timestamp)
		}
		if captured.Password != stkPassword(testShortcode, testPasskey, captured.Timestamp) {
			t.Errorf("password does not match shortcode+passkey+timestamp derivation")
		}
		if captured.CallBackURL != "https://example.com/callback/" {
			t.Errorf("unexpected callback url %q", captured.CallBackURL)
		}
		if captured.Amount != 100 || captured.AccountReference != "ACC-1" || captured.TransactionDesc != "order 42" {
			t.Errorf("unexpected amount/reference/description: %+v", captured)
		}
	})

	t.Run("should surface the gateway error message on rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"requestId": "1234", "errorCode": "400.002.02", "errorMessage": "Bad Request - Invalid Amount"}`))
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		g.tokens = staticToken("token-123")

		_, err := g.StkPush(context.Background(), pushReq)
		if !errors.Is(err, domain.ErrGatewayRejected) {
			t.Fatalf("expected ErrGatewayRejected, got %v", err)
		}
		if want := "Bad Request - Invalid Amount"; !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to carry %q, got %q", want, err.Error())
		}
	})

	t.Run("should fail closed when the gateway is unreachable", func(t *testing.T) {
		g := newTestGateway(t, "http://127.0.0.1:1")
		g.tokens = staticToken("token-123")

		if _, err := g.StkPush(context.Background(), pushReq); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Errorf("expected ErrGatewayUnavailable, got %v", err)
		}
	})
}

func TestQueryStatus(t *testing.T) {
	t.Run("should return the raw gateway payload", func(t *testing.T) {
		payload := `{"ResponseCode": "0", "ResultCode": "1032", "ResultDesc": "Request cancelled by user"}`
		var captured map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/mpesa/stkpushquery/v1/query" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&captured)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(payload))
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		g.tokens = staticToken("token-123")

		raw, err := g.QueryStatus(context.Background(), "ws_CO_1")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if string(raw) != payload {
			t.Errorf("expected payload to pass through verbatim, got %s", raw)
		}
		if captured["CheckoutRequestID"] != "ws_CO_1" {
			t.Errorf("expected checkout request id in query body, got %v", captured["CheckoutRequestID"])
		}
		ts, _ := captured["Timestamp"].(string)
		pw, _ := captured["Password"].(string)
		if pw != stkPassword(testShortcode, testPasskey, ts) {
			t.Errorf("query password does not match derivation for its timestamp")
		}
	})

	t.Run("should fail closed on gateway 5xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		g := newTestGateway(t, srv.URL)
		g.tokens = staticToken("token-123")

		if _, err := g.QueryStatus(context.Background(), "ws_CO_1"); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Errorf("expected ErrGatewayUnavailable, got %v", err)
		}
	})
}

// staticToken is a fixed adapter.TokenSource for tests.
type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

