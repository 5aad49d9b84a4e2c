package mpesa

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config carries the gateway credentials. The API key is never sent in the
// clear: it is RSA-encrypted with the provider public key to obtain a
// short-lived session token.
type Config struct {
	APIKey              string
	PublicKey           string // PEM or bare base64 DER
	BaseURL             string
	ServiceProviderCode string
	Country             string
	Timeout             time.Duration
}

// Client talks to the mobile-money gateway. There is no reliable push
// channel; charges are initiated and then polled until a terminal state is
// observed.
type Client struct {
	cfg  Config
	doer Doer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.PublicKey) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		doer: &http.Client{Timeout: timeout},
	}, nil
}

// NewClientWithDoer is used by tests to inject the transport.
func NewClientWithDoer(cfg Config, doer Doer) (*Client, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	client.doer = doer
	return client, nil
}

// EncryptCredential RSA-encrypts the API key with the provider public key and
// returns it base64-encoded, as required by the session endpoint.
func EncryptCredential(publicKey, apiKey string) (string, error) {
	keyBytes, err := decodePublicKey(publicKey)
	if err != nil {
		return "", err
	}
	parsed, err := x509.ParsePKIXPublicKey(keyBytes)
	if err != nil {
		return "", fmt.Errorf("parse provider public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return "", errors.New("provider public key is not RSA")
	}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, rsaKey, []byte(apiKey))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

func decodePublicKey(publicKey string) ([]byte, error) {
	publicKey = strings.TrimSpace(publicKey)
	if block, _ := pem.Decode([]byte(publicKey)); block != nil {
		return block.Bytes, nil
	}
	raw, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, errors.New("provider public key is neither PEM nor base64")
	}
	return raw, nil
}

// sessionToken returns a cached session token, fetching a new one when the
// cached token is missing or expired.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	credential, err := EncryptCredential(c.cfg.PublicKey, c.cfg.APIKey)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/ipg/v2/getSession/"), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Origin", "*")

	var out struct {
		OutputSessionID string `json:"output_SessionID"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.OutputSessionID) == "" {
		return "", paymentdomain.ErrInvalidPayload
	}

	c.token = out.OutputSessionID
	c.tokenExpiry = time.Now().Add(55 * time.Minute)
	return c.token, nil
}

// Charge submits a single-stage customer-to-business charge against the
// subscriber's phone and returns the provider conversation id.
func (c *Client) Charge(ctx context.Context, chargeReq paymentdomain.MobileMoneyChargeRequest) (string, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{
		"input_Amount":                   fmt.Sprintf("%d", chargeReq.Amount),
		"input_Currency":                 chargeReq.Currency,
		"input_CustomerMSISDN":           chargeReq.Phone,
		"input_ServiceProviderCode":      c.cfg.ServiceProviderCode,
		"input_Country":                  c.cfg.Country,
		"input_TransactionReference":     chargeReq.Reference,
		"input_ThirdPartyConversationID": chargeReq.Reference,
		"input_PurchasedItemsDesc":       "credits",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/ipg/v2/c2bPayment/singleStage/"), strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "*")

	var out struct {
		OutputConversationID string `json:"output_ConversationID"`
		OutputResponseCode   string `json:"output_ResponseCode"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.OutputConversationID) == "" {
		return "", paymentdomain.ErrInvalidPayload
	}
	return out.OutputConversationID, nil
}

// QueryStatus polls a charge by conversation id. Timeouts and not-yet-settled
// responses map to Pending; only explicit provider verdicts are terminal.
func (c *Client) QueryStatus(ctx context.Context, conversationID string) (paymentdomain.MobileMoneyStatus, error) {
	token, err := c.sessionToken(ctx)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf(
		"%s?input_QueryReference=%s&input_ServiceProviderCode=%s&input_Country=%s",
		c.endpoint("/ipg/v2/queryTransactionStatus/"),
		conversationID,
		c.cfg.ServiceProviderCode,
		c.cfg.Country,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Origin", "*")

	var out struct {
		OutputResponseCode              string `json:"output_ResponseCode"`
		OutputResponseTransactionStatus string `json:"output_ResponseTransactionStatus"`
	}
	if err := c.do(req, &out); err != nil {
		if errors.Is(err, paymentdomain.ErrProviderTimeout) {
			return paymentdomain.MobileMoneyStatusPending, nil
		}
		return "", err
	}

	switch strings.ToLower(strings.TrimSpace(out.OutputResponseTransactionStatus)) {
	case "completed", "success":
		return paymentdomain.MobileMoneyStatusCompleted, nil
	case "failed", "cancelled", "expired":
		return paymentdomain.MobileMoneyStatusFailed, nil
	default:
		return paymentdomain.MobileMoneyStatusPending, nil
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.doer.Do(req)
	if err != nil {
		if isTimeout(err) {
			return paymentdomain.ErrProviderTimeout
		}
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mpesa request failed: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// MaskPhone hides the middle digits of a subscriber number before it is
// surfaced to a client.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) < 7 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-2:]
}
