// Package forward delivers validated payment events to the downstream
// service, authenticated with a signed bearer token.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Event is one validated gateway notification.
type Event struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"` // "result" or "success"
	InvoiceID     int64             `json:"invoice_id"`
	OutSum        string            `json:"out_sum"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Email         string            `json:"email,omitempty"`
	CustomParams  map[string]string `json:"custom_params,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
}

// Forwarder posts events to a single downstream URL.
type Forwarder struct {
	url        string
	jwtSecret  []byte
	httpClient *http.Client
}

// New creates a forwarder for the given downstream endpoint.
func New(url, jwtSecret string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		url:        url,
		jwtSecret:  []byte(jwtSecret),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewEvent builds an event with a fresh identifier and timestamp.
func NewEvent(kind string, invoiceID int64, outSum string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		InvoiceID:  invoiceID,
		OutSum:     outSum,
		ReceivedAt: time.Now().UTC(),
	}
}

// Send posts the event as JSON. The bearer token carries the event id and
// invoice id as claims so the downstream can verify the payload matches the
// token it was signed with.
func (f *Forwarder) Send(ctx context.Context, event *Event) error {
	if f.url == "" {
		return nil
	}

	token, err := f.signToken(event)
	if err != nil {
		return fmt.Errorf("failed to sign event token: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("downstream rejected event %s: %s", event.ID, resp.Status)
	}
	return nil
}

func (f *Forwarder) signToken(event *Event) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "robokassa-relay",
		"jti": event.ID,
		"sub": fmt.Sprintf("invoice:%d", event.InvoiceID),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	return token.SignedString(f.jwtSecret)
}

// VerifyToken parses a bearer token issued by Send and returns its event id.
// Used by downstream services and tests.
func VerifyToken(tokenString, jwtSecret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	id, _ := claims["jti"].(string)
	return id, nil
}
