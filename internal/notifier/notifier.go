package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// Ack confirms that a channel accepted a payload.
type Ack struct {
	Publisher string
	Channel   string
	// ID is the channel's identifier for the message, when it has one.
	ID string
	At time.Time
}

// Publisher delivers rendered payloads to one kind of channel. channel
// selects the destination within it (chat id, topic, routing key); an
// empty channel uses the publisher's default.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, p render.Payload, channel string) (Ack, error)
}

// PublishError is a failed delivery.
type PublishError struct {
	Publisher string
	Permanent bool
	Err       error
}

func (e *PublishError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s publish failed (%s): %v", e.Publisher, kind, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable publish failure.
func Transient(publisher string, err error) error {
	return &PublishError{Publisher: publisher, Err: err}
}

// Permanent wraps err as a publish failure that will not succeed on retry.
func Permanent(publisher string, err error) error {
	return &PublishError{Publisher: publisher, Permanent: true, Err: err}
}

// IsPermanent reports whether err is a permanent publish failure. Errors
// that are not a *PublishError are treated as transient.
func IsPermanent(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe) && pe.Permanent
}

// classifyStatus wraps an unexpected HTTP status: rate limits and server
// errors are worth retrying, other client errors are not.
func classifyStatus(publisher string, status int, body []byte) error {
	err := fmt.Errorf("unexpected status %d: %s", status, truncate(string(body), 200))
	if status == http.StatusTooManyRequests || status >= 500 {
		return Transient(publisher, err)
	}
	return Permanent(publisher, err)
}

// truncate cuts s to at most n runes, ending with an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
