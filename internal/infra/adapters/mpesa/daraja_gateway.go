// File: internal/infra/adapters/mpesa/daraja_gateway.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mpesa-payment-service/internal/config"
	"mpesa-payment-service/internal/domain"
	"mpesa-payment-service/internal/domain/ports/adapter"
	"mpesa-payment-service/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*DarajaGateway)(nil)
var _ adapter.TokenSource = (*DarajaGateway)(nil)

// Daraja timestamps are gateway-local time.
var nairobi = loadNairobi()

func loadNairobi() *time.Location {
	loc, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

// DarajaGateway implements adapter.PaymentGateway against the Safaricom
// Daraja REST API (STK push, push status query, OAuth token endpoint).
type DarajaGateway struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	baseURL        string
	client         *http.Client
	tokens         adapter.TokenSource
	now            func() time.Time
}

// NewDarajaGateway validates the credential set and returns a gateway with a
// bounded HTTP client. Without UseTokenSource the gateway fetches a fresh
// token per call.
func NewDarajaGateway(cfg *config.MpesaConfig) (*DarajaGateway, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, errors.New("consumer key/secret empty")
	}
	if cfg.Shortcode == "" || cfg.Passkey == "" {
		return nil, errors.New("shortcode/passkey empty")
	}
	if _, err := url.Parse(cfg.CallbackURL); err != nil {
		return nil, fmt.Errorf("invalid callback url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	g := &DarajaGateway{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		baseURL:        cfg.BaseURL,
		client:         &http.Client{Timeout: timeout},
		now:            func() time.Time { return time.Now().In(nairobi) },
	}
	g.tokens = g
	return g, nil
}

// UseTokenSource replaces the per-call token fetch with an external source,
// typically the redis-backed cache.
func (g *DarajaGateway) UseTokenSource(ts adapter.TokenSource) { g.tokens = ts }

func (g *DarajaGateway) Name() string { return "daraja" }

// stkPassword derives the per-request password: base64 of the exact
// concatenation shortcode+passkey+timestamp, no separators. The gateway
// rejects anything else, so this is correctness-critical.
func stkPassword(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

func (g *DarajaGateway) timestamp() string {
	return g.now().Format("20060102150405")
}

// FetchToken calls the OAuth endpoint with HTTP Basic auth and returns the
// bearer token plus its validity window. Any failure, transport or body
// shape, maps to domain.ErrAuthFailed with the cause attached.
func (g *DarajaGateway) FetchToken(ctx context.Context) (string, time.Duration, error) {
	endpoint := g.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	req.SetBasicAuth(g.consumerKey, g.consumerSecret)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveGatewayCall("token", time.Since(start), err == nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("%w: decode token response: %v", domain.ErrAuthFailed, err)
	}
	if out.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: response lacks access_token (http %d)", domain.ErrAuthFailed, resp.StatusCode)
	}
	validFor := time.Hour
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		validFor = time.Duration(secs) * time.Second
	}
	return out.AccessToken, validFor, nil
}

// Token implements adapter.TokenSource for the uncached path.
func (g *DarajaGateway) Token(ctx context.Context) (string, error) {
	tok, _, err := g.FetchToken(ctx)
	return tok, err
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// StkPush posts a CustomerPayBillOnline push request. PartyA and PhoneNumber
// both carry the normalized payer number; PartyB is the shortcode.
func (g *DarajaGateway) StkPush(ctx context.Context, pr adapter.StkPushRequest) (*adapter.StkPushResponse, error) {
	ts := g.timestamp()
	body := stkPushBody{
		BusinessShortCode: g.shortcode,
		Password:          stkPassword(g.shortcode, g.passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            pr.Amount,
		PartyA:            pr.PhoneNumber,
		PartyB:            g.shortcode,
		PhoneNumber:       pr.PhoneNumber,
		CallBackURL:       g.callbackURL,
		AccountReference:  pr.AccountReference,
		TransactionDesc:   pr.Description,
	}

	raw, err := g.post(ctx, "/mpesa/stkpush/v1/processrequest", "stkpush", body)
	if err != nil {
		return nil, err
	}

	var out struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
		darajaError
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode push response: %v", domain.ErrGatewayUnavailable, err)
	}
	if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		msg := out.ErrorMessage
		if msg == "" {
			msg = out.ResponseDescription
		}
		if msg == "" {
			msg = "failed to process request"
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayRejected, msg)
	}
	return &adapter.StkPushResponse{
		MerchantRequestID: out.MerchantRequestID,
		CheckoutRequestID: out.CheckoutRequestID,
		ResponseCode:      out.ResponseCode,
		ResponseDesc:      out.ResponseDescription,
		CustomerMessage:   out.CustomerMessage,
	}, nil
}

// QueryStatus posts a push status query and returns the gateway's payload
// verbatim. Callers interpret ResultCode; this is a read, not a transition.
func (g *DarajaGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error) {
	ts := g.timestamp()
	body := struct {
		BusinessShortCode string `json:"BusinessShortCode"`
		Password          string `json:"Password"`
		Timestamp         string `json:"Timestamp"`
		CheckoutRequestID string `json:"CheckoutRequestID"`
	}{
		BusinessShortCode: g.shortcode,
		Password:          stkPassword(g.shortcode, g.passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	return g.post(ctx, "/mpesa/stkpushquery/v1/query", "query", body)
}

func (g *DarajaGateway) post(ctx context.Context, path, op string, body any) (json.RawMessage, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveGatewayCall(op, time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway returned http %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}
	return raw, nil
}
