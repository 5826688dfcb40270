// Package messaging provides the pluggable delivery layer between the chat
// transports and the message pipeline. Each transport implements Service;
// the Runner drains inbound responses into the pipeline and sends back the
// chosen reply.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/norboyaca/AUTOMATIZACION-sub000/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after the service was stopped.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// SendMessage sends a message to a participant.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g. event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery status events.
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming participant messages.
	Responses() <-chan models.Response
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// CanonicalizeParticipantID normalizes a phone-number-like id to E.164 form
// (leading + and digits only).
func CanonicalizeParticipantID(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("participant id cannot be empty")
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return "", fmt.Errorf("invalid participant id: no digits found in %q", raw)
	}
	if len(digits) < 6 {
		return "", fmt.Errorf("invalid participant id: %q is too short", digits)
	}
	canonical := "+" + digits
	if canonical != raw {
		slog.Debug("Canonicalized participant id", "original", raw, "canonical", canonical)
	}
	return canonical, nil
}
