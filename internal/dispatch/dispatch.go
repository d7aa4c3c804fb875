// Package dispatch hands planned emissions to the renderer and fans the
// rendered payload out to every configured publisher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pfrederiksen/hockeygamebot/internal/dedup"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/notifier"
	"github.com/pfrederiksen/hockeygamebot/internal/render"
)

// Renderer turns an emission into a payload. It may return
// render.ErrNothingToSay.
type Renderer interface {
	Render(e dedup.Emission) (render.Payload, error)
}

// RenderError is an emission that could not be rendered. It is skipped.
type RenderError struct {
	Emission dedup.Emission
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s: %v", e.Emission, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// RetractionPolicy decides whether retractions reach the channels.
type RetractionPolicy string

const (
	RetractionsNotify   RetractionPolicy = "notify"
	RetractionsSuppress RetractionPolicy = "suppress"
)

// ParseRetractionPolicy validates a policy name.
func ParseRetractionPolicy(s string) (RetractionPolicy, error) {
	switch p := RetractionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RetractionsNotify, RetractionsSuppress:
		return p, nil
	case "":
		return RetractionsNotify, nil
	}
	return "", fmt.Errorf("invalid retraction policy: %q (must be notify or suppress)", s)
}

// Route sends payloads to one publisher and channel.
type Route struct {
	Publisher notifier.Publisher
	Channel   string
}

// Options tune delivery.
type Options struct {
	// MaxAttempts bounds publish attempts per route, including the first.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retractions    RetractionPolicy
}

// DefaultOptions returns the delivery settings used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Retractions:    RetractionsNotify,
	}
}

// Result describes what happened to one emission.
type Result struct {
	Payload render.Payload
	Acks    []notifier.Ack
	// Failures are publish errors after retries. They do not undo the
	// handoff.
	Failures []error
	// Silent is set when the emission was handed off without publishing.
	Silent bool
}

// Dispatcher is safe for concurrent use by several trackers as long as its
// renderer and publishers are.
type Dispatcher struct {
	renderer Renderer
	routes   []Route
	opts     Options
	log      *logger.Logger
	metrics  *logger.Metrics
}

// New creates a dispatcher.
func New(renderer Renderer, routes []Route, opts Options, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Retractions == "" {
		opts.Retractions = RetractionsNotify
	}
	return &Dispatcher{
		renderer: renderer,
		routes:   routes,
		opts:     opts,
		log:      log,
		metrics:  logger.DefaultMetrics(),
	}
}

// Routes returns the configured routes.
func (d *Dispatcher) Routes() []Route {
	return d.routes
}

// Dispatch renders e and publishes it. A nil error means the emission was
// handed off and must be recorded as emitted, even if some publishers
// failed. A *RenderError means it was not handed off.
func (d *Dispatcher) Dispatch(ctx context.Context, e dedup.Emission) (Result, error) {
	fields := logger.Fields{"game_id": e.GameID, "event": string(e.Type), "key": e.Key}
	if e.Fingerprint != "" {
		fields["fingerprint"] = string(e.Fingerprint)
	}

	if e.Type == dedup.EventOccurrenceRetracted && d.opts.Retractions == RetractionsSuppress {
		d.log.Info("Retraction suppressed by policy", fields)
		return Result{Silent: true}, nil
	}

	payload, err := d.renderer.Render(e)
	if errors.Is(err, render.ErrNothingToSay) {
		d.log.Debug("Nothing to publish for event", fields)
		return Result{Silent: true}, nil
	}
	if err != nil {
		d.metrics.IncrCounter("dispatch.render_failures")
		rerr := &RenderError{Emission: e, Err: err}
		d.log.Error("Failed to render event", fields, rerr)
		return Result{}, rerr
	}

	result := Result{Payload: payload}
	for _, route := range d.routes {
		ack, err := d.publish(ctx, route, payload)
		if err != nil {
			d.metrics.IncrCounter("dispatch.publish_failures")
			f := logger.Fields{"publisher": route.Publisher.Name(), "channel": route.Channel}
			for k, v := range fields {
				f[k] = v
			}
			d.log.Error("Failed to publish event", f, err)
			result.Failures = append(result.Failures, err)
			continue
		}
		result.Acks = append(result.Acks, ack)
	}

	d.metrics.IncrCounter("dispatch.emitted")
	d.log.Info("Event dispatched", logger.Fields{
		"game_id":   e.GameID,
		"event":     string(e.Type),
		"delivered": len(result.Acks),
		"failed":    len(result.Failures),
	})
	return result, nil
}

// publish delivers to one route, retrying transient failures.
func (d *Dispatcher) publish(ctx context.Context, route Route, p render.Payload) (notifier.Ack, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialBackoff
	b.MaxInterval = d.opts.MaxBackoff
	b.MaxElapsedTime = 0

	var ack notifier.Ack
	attempt := 0
	op := func() error {
		attempt++
		start := time.Now()
		a, err := route.Publisher.Publish(ctx, p, route.Channel)
		d.metrics.RecordTiming("dispatch.publish."+route.Publisher.Name(), time.Since(start))
		if err != nil {
			if notifier.IsPermanent(err) {
				return backoff.Permanent(err)
			}
			d.log.Warn("Publish attempt failed", logger.Fields{
				"publisher": route.Publisher.Name(),
				"attempt":   attempt,
				"error":     err.Error(),
			})
			return err
		}
		ack = a
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.opts.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return notifier.Ack{}, err
	}
	return ack, nil
}
