package intasend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CheckoutClient creates hosted checkout links at the aggregator.
type CheckoutClient struct {
	secretKey string
	baseURL   string
	doer      Doer
}

func NewCheckoutClient(secretKey, baseURL string, timeout time.Duration) *CheckoutClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CheckoutClient{
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		doer:      &http.Client{Timeout: timeout},
	}
}

// NewCheckoutClientWithDoer is used by tests to inject the transport.
func NewCheckoutClientWithDoer(secretKey, baseURL string, doer Doer) *CheckoutClient {
	return &CheckoutClient{
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		doer:      doer,
	}
}

func (c *CheckoutClient) Provider() string {
	return paymentdomain.ProviderIntaSend
}

func (c *CheckoutClient) CreateCheckout(ctx context.Context, session *checkoutdomain.PaymentSession, returnURL string) (checkoutdomain.RedirectResult, error) {
	if c.secretKey == "" {
		return checkoutdomain.RedirectResult{}, paymentdomain.ErrInvalidConfig
	}

	body, err := json.Marshal(map[string]any{
		"amount":       session.Amount,
		"currency":     session.Currency,
		"api_ref":      session.CheckoutRef,
		"redirect_url": returnURL,
		"metadata": map[string]string{
			"user_id":      session.UserID,
			"package_type": session.PackageType,
		},
	})
	if err != nil {
		return checkoutdomain.RedirectResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/checkout/", bytes.NewReader(body))
	if err != nil {
		return checkoutdomain.RedirectResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		if isTimeout(err) {
			return checkoutdomain.RedirectResult{}, paymentdomain.ErrProviderTimeout
		}
		return checkoutdomain.RedirectResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return checkoutdomain.RedirectResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return checkoutdomain.RedirectResult{}, fmt.Errorf("intasend checkout create failed: status %d", resp.StatusCode)
	}

	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return checkoutdomain.RedirectResult{}, paymentdomain.ErrInvalidPayload
	}
	if created.ID == "" || created.URL == "" {
		return checkoutdomain.RedirectResult{}, paymentdomain.ErrInvalidPayload
	}

	return checkoutdomain.RedirectResult{
		ProviderRef: created.ID,
		RedirectURL: created.URL,
	}, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
