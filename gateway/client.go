package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
)

// Client is a thin REST client for gateway lookups (payment intents,
// checkout sessions). Lookups feed the payment-method detector; a failed
// lookup is a soft failure and the caller degrades gracefully.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter <-chan time.Time
}

func NewClient(cfg config.GatewayConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gateway api key is empty")
	}
	rateLimitPerMin := int64(config.IntFromEnv("GATEWAY_RATE_LIMIT_PER_MIN", 120))
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 120
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: time.Tick(interval),
	}, nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("payment intent id is empty")
	}
	var intent PaymentIntent
	if err := c.getJSON(ctx, "/v1/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) RetrieveCheckoutSession(ctx context.Context, id string, expand []string) (*CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("checkout session id is empty")
	}
	params := url.Values{}
	for _, e := range expand {
		params.Add("expand[]", e)
	}
	var session CheckoutSession
	if err := c.getJSON(ctx, "/v1/checkout/sessions/"+url.PathEscape(id), params, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, dest)
}
