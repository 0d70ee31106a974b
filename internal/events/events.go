// Package events maintains a long-lived subscription to the external domain
// event stream and drives leaderboard recomputation and broadcast. The
// subscriber reconnects forever; only cancelling its context stops it.
package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/hackfest/leaderboard/internal/metrics"
	"github.com/hackfest/leaderboard/internal/ranking"
)

// Event types the subscriber asks the stream to deliver
const (
	EventScoreSubmitted    = "score.submitted"
	EventSubmissionCreated = "submission.created"
)

// dataPrefix marks a payload line in the event-stream wire format
var dataPrefix = []byte("data: ")

// Event represents a domain event decoded from one stream frame
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"event_type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"event_data"`
	CreatedAt time.Time              `json:"created_at"`
}

// RetryConfig represents the parameters for when to retry to connect
type RetryConfig struct {
	Factor float64
	Jitter bool
	Min    time.Duration
	Max    time.Duration
}

// Config represents parameters for the event stream subscription
type Config struct {

	// BaseURL is the scheme://host[:port] of the event source
	BaseURL string

	// Project scopes the subscription to one project
	Project string

	// Token is the bearer token presented on the subscribe request
	Token string

	// Retry controls the delay between reconnection attempts
	Retry RetryConfig
}

// NewDefaultConfig returns a Config that retries at the fixed five second
// interval; set Min/Max/Factor for exponential behaviour instead.
func NewDefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			Factor: 1,
			Min:    5 * time.Second,
			Max:    5 * time.Second,
		},
	}
}

// Calculator is the slice of the ranking calculator the subscriber drives
type Calculator interface {
	InvalidateCache(competition string)
	CalculateLeaderboard(ctx context.Context, competition string) ([]ranking.Entry, error)
}

// Broadcaster is the slice of the hub the subscriber hands updates to
type Broadcaster interface {
	Broadcast(competition string, data []byte)
	GetClientCount(competition string) int
}

// Subscriber consumes the event stream and triggers recomputation
type Subscriber struct {
	config     Config
	calculator Calculator
	hub        Broadcaster

	// no timeout; the stream is expected to be long lived, and the
	// request carries the caller's context for cancellation
	httpClient *http.Client
}

// New returns a subscriber ready to Subscribe
func New(config Config, calculator Calculator, hub Broadcaster) *Subscriber {
	return &Subscriber{
		config:     config,
		calculator: calculator,
		hub:        hub,
		httpClient: &http.Client{},
	}
}

// Subscribe connects to the event stream and processes events until ctx is
// cancelled, reconnecting after a delay whenever the stream ends. Never
// returns a non-cancellation error.
func (s *Subscriber) Subscribe(ctx context.Context) error {

	boff := &backoff.Backoff{
		Factor: s.config.Retry.Factor,
		Jitter: s.config.Retry.Jitter,
		Min:    s.config.Retry.Min,
		Max:    s.config.Retry.Max,
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("event subscription cancelled")
			return ctx.Err()
		default:
		}

		err := s.stream(ctx)

		if ctx.Err() != nil {
			log.Info("event subscription cancelled")
			return ctx.Err()
		}

		delay := boff.Duration()
		if err != nil {
			log.WithFields(log.Fields{"error": err, "retry_in": delay}).Warn("event stream failed, reconnecting")
		} else {
			// server closed the stream cleanly; same delay, fresh backoff
			boff.Reset()
			log.WithField("retry_in", delay).Info("event stream closed by server, reconnecting")
		}
		metrics.Reconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// stream opens one subscription and reads frames until the stream ends.
// A nil return means the server closed the stream cleanly.
func (s *Subscriber) stream(ctx context.Context) error {

	url := fmt.Sprintf("%s/v1/public/projects/%s/database/events/subscribe",
		s.config.BaseURL, s.config.Project)

	eventTypes := []string{EventScoreSubmitted, EventSubmissionCreated}

	body, err := json.Marshal(map[string]interface{}{
		"event_types": eventTypes,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subscription failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	log.WithField("eventTypes", eventTypes).Info("connected to event stream")

	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading event stream: %w", err)
		}

		if bytes.HasPrefix(line, dataPrefix) {
			s.handleFrame(ctx, bytes.TrimSpace(line[len(dataPrefix):]))
		}
	}
}

// handleFrame decodes one event frame and dispatches it. Malformed frames
// and frames without a competition ID are dropped; the stream continues.
func (s *Subscriber) handleFrame(ctx context.Context, data []byte) {

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		metrics.EventsDropped.Inc()
		log.WithField("error", err).Warn("dropping undecodable event frame")
		return
	}

	competition, ok := event.Data["hackathon_id"].(string)
	if !ok || competition == "" {
		metrics.EventsDropped.Inc()
		log.WithFields(log.Fields{"id": event.ID, "type": event.Type}).Warn("dropping event without competition ID")
		return
	}

	log.WithFields(log.Fields{"id": event.ID, "type": event.Type, "competition": competition}).Debug("event received")

	switch event.Type {
	case EventScoreSubmitted, EventSubmissionCreated:
		metrics.EventsReceived.WithLabelValues(event.Type).Inc()
		s.refresh(ctx, competition)
	default:
		metrics.EventsDropped.Inc()
		log.WithField("type", event.Type).Warn("ignoring unexpected event type")
	}
}

// refresh recomputes a competition's leaderboard and hands it to the hub.
// On failure it logs and does nothing further; the next event, or a
// TTL-driven recompute on a normal read, will self-heal.
func (s *Subscriber) refresh(ctx context.Context, competition string) {

	s.calculator.InvalidateCache(competition)

	rankings, err := s.calculator.CalculateLeaderboard(ctx, competition)
	if err != nil {
		log.WithFields(log.Fields{"competition": competition, "error": err}).Error("leaderboard recompute failed, skipping broadcast")
		return
	}

	data, err := ranking.MarshalUpdate(rankings)
	if err != nil {
		log.WithFields(log.Fields{"competition": competition, "error": err}).Error("could not marshal leaderboard update")
		return
	}

	log.WithFields(log.Fields{"competition": competition, "clients": s.hub.GetClientCount(competition)}).Debug("broadcasting leaderboard update")

	s.hub.Broadcast(competition, data)
}
