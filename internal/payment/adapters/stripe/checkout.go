package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	checkoutdomain "github.com/hireloop/hireloop/internal/checkout/domain"
	paymentdomain "github.com/hireloop/hireloop/internal/payment/domain"
)

const checkoutEndpoint = "https://api.stripe.com/v1/checkout/sessions"

// Doer abstracts the HTTP client for tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CheckoutClient creates hosted checkout sessions via the card processor API.
type CheckoutClient struct {
	secretKey string
	doer      Doer
}

func NewCheckoutClient(secretKey string, timeout time.Duration) *CheckoutClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CheckoutClient{
		secretKey: strings.TrimSpace(secretKey),
		doer:      &http.Client{Timeout: timeout},
	}
}

// NewCheckoutClientWithDoer is used by tests to inject the transport.
func NewCheckoutClientWithDoer(secretKey string, doer Doer) *CheckoutClient {
	return &CheckoutClient{secretKey: strings.TrimSpace(secretKey), doer: doer}
}

func (c *CheckoutClient) Provider() string {
	return paymentdomain.ProviderStripe
}

func (c *CheckoutClient) CreateCheckout(ctx context.Context, session *checkoutdomain.PaymentSession, returnURL string) (checkoutdomain.RedirectResult, error) {
	if c.secretKey == "" {
		return checkoutdomain.RedirectResult{}, paymentdomain.ErrInvalidConfig
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", returnURL)
	form.Set("cancel_url", returnURL)
	form.Set("line_items[0][price_data][currency]", strings.ToLower(session.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(session.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", session.PackageType+" credits")
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[user_id]", session.UserID)
	form.Set("metadata[package_type]", session.PackageType)
	form.Set("metadata[credits]", strconv.FormatInt(session.ExpectedCredits, 10))
	form.Set("metadata[checkout_ref]", session.CheckoutRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, checkoutEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return checkoutdomain.RedirectResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.doer.Do(req)
	if err != nil {
		if isTimeout(err) {
			return checkoutdomain.RedirectResult{}, paymentdomain.ErrProviderTimeout
		}
		return checkoutdomain.RedirectResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return checkoutdomain.RedirectResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return checkoutdomain.RedirectResult{}, fmt.Errorf("stripe checkout create failed: status %d", resp.StatusCode)
	}

	var created struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
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
