package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureVerification is terminal for the request: the caller must
// reject with a 4xx and must NOT acknowledge receipt.
var ErrSignatureVerification = errors.New("webhook signature verification failed")

// DefaultSignatureTolerance bounds how old a signed timestamp may be.
const DefaultSignatureTolerance = 5 * time.Minute

// eventEnvelope is the wire shape of a notification.
type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ConstructEvent verifies the signature header against the raw payload and,
// on success, parses the payload into a typed Event. The header format is
// "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<payload>">". Multiple v1 entries
// are accepted (secret rotation); any match passes.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	ts, sigs, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}

	age := time.Since(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return Event{}, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureVerification)
	}

	expected := computeSignature(ts, payload, secret)
	var ok bool
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			ok = true
			break
		}
	}
	if !ok {
		return Event{}, fmt.Errorf("%w: no matching v1 signature", ErrSignatureVerification)
	}

	return ParseEvent(payload)
}

// ParseEvent decodes an already-verified payload into a typed Event.
// Used by ConstructEvent and by paths that replay stored payloads.
func ParseEvent(payload []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("malformed event payload: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return Event{}, errors.New("event payload missing id or type")
	}

	event := Event{
		ID:        env.ID,
		Type:      EventType(env.Type),
		CreatedAt: time.Unix(env.Created, 0).UTC(),
		Raw:       env.Data.Object,
	}

	switch {
	case strings.HasPrefix(env.Type, "payment_intent."):
		var intent PaymentIntent
		if err := json.Unmarshal(env.Data.Object, &intent); err != nil {
			return Event{}, fmt.Errorf("malformed payment_intent object: %w", err)
		}
		event.Intent = &intent
	case strings.HasPrefix(env.Type, "checkout.session."):
		var session CheckoutSession
		if err := json.Unmarshal(env.Data.Object, &session); err != nil {
			return Event{}, fmt.Errorf("malformed checkout.session object: %w", err)
		}
		event.Session = &session
	case strings.HasPrefix(env.Type, "charge."):
		var charge Charge
		if err := json.Unmarshal(env.Data.Object, &charge); err != nil {
			return Event{}, fmt.Errorf("malformed charge object: %w", err)
		}
		event.Charge = &charge
	}

	return event, nil
}

// SignPayload produces a valid signature header for payload. Used by the
// event-replay tooling and tests.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(ts, payload, secret))
}

func computeSignature(ts int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			n, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrSignatureVerification)
			}
			ts = n
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts < 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: unparsable header", ErrSignatureVerification)
	}
	return ts, sigs, nil
}
