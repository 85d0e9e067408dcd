package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/XCarlosEduardoX/backend-darkmart-sub000/config"
	"github.com/sirupsen/logrus"
)

// ErrRateLimited wraps 429-class provider responses so the dispatcher can
// widen its backoff.
var ErrRateLimited = errors.New("mail provider rate limited")

type Message struct {
	To          string `json:"to"`
	ToName      string `json:"to_name,omitempty"`
	FromAddress string `json:"from"`
	FromName    string `json:"from_name,omitempty"`
	Subject     string `json:"subject"`
	HTMLBody    string `json:"html_body,omitempty"`
	TextBody    string `json:"text_body,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client posts messages to the mail provider's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.MailConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("mail api key is empty")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("mail api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// LogSender is used when no mail provider is configured (local/dev): it
// logs the message instead of sending it.
type LogSender struct {
	Logger *logrus.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":   "Mailer",
			"to":      msg.To,
			"subject": msg.Subject,
		}).Info("mail provider not configured; dropping message")
	}
	return nil
}
