// Package records implements a read-only client for the external record
// store holding competition submissions and judge scores. The store is
// queried over HTTP with JSON filter documents and returns rows in a
// {"rows":[...]} envelope.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hackfest/leaderboard/internal/metrics"
)

// DefaultTimeout bounds each query so a stalled store cannot wedge callers.
const DefaultTimeout = 10 * time.Second

// Config represents parameters for connecting to the record store
type Config struct {

	// BaseURL is the scheme://host[:port] of the record store
	BaseURL string

	// Project scopes all queries to one project
	Project string

	// Token is the bearer token presented on every request
	Token string

	// Timeout per query; DefaultTimeout if zero
	Timeout time.Duration
}

// Client queries the record store
type Client struct {
	config     Config
	httpClient *http.Client
}

// Submission represents a competition entry held by the record store
type Submission struct {
	ID            string    `json:"id"`
	CompetitionID string    `json:"hackathon_id"`
	TeamID        string    `json:"team_id"`
	TeamName      string    `json:"team_name"`
	TrackID       string    `json:"track_id"`
	TrackName     string    `json:"track_name"`
	Title         string    `json:"title"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Score represents one judge's score for a submission
type Score struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	JudgeID      string    `json:"judge_id"`
	Score        float64   `json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}

// New returns a client for the record store described by config
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Submissions returns all submissions belonging to a competition
func (c *Client) Submissions(ctx context.Context, competition string) ([]Submission, error) {

	filter := map[string]interface{}{
		"filter": map[string]interface{}{
			"hackathon_id": competition,
		},
	}

	var result struct {
		Rows []Submission `json:"rows"`
	}

	if err := c.query(ctx, "submissions", filter, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}

	return result.Rows, nil
}

// Scores returns all score records for the given submission IDs
func (c *Client) Scores(ctx context.Context, submissionIDs []string) ([]Score, error) {

	if len(submissionIDs) == 0 {
		return []Score{}, nil
	}

	filter := map[string]interface{}{
		"filter": map[string]interface{}{
			"submission_id": map[string]interface{}{
				"$in": submissionIDs,
			},
		},
	}

	var result struct {
		Rows []Score `json:"rows"`
	}

	if err := c.query(ctx, "scores", filter, &result); err != nil {
		return nil, fmt.Errorf("failed to fetch scores: %w", err)
	}

	return result.Rows, nil
}

// query POSTs a filter document to a table's query endpoint and decodes the
// row envelope into out
func (c *Client) query(ctx context.Context, table string, filter, out interface{}) error {

	url := fmt.Sprintf("%s/v1/public/projects/%s/database/tables/%s/query",
		c.config.BaseURL, c.config.Project, table)

	body, err := json.Marshal(filter)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FetchErrors.Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchErrors.Inc()
		respBody, _ := io.ReadAll(resp.Body)
		log.WithFields(log.Fields{"table": table, "status": resp.StatusCode}).Debug("record store query failed")
		return fmt.Errorf("query of %s failed with status %d: %s", table, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.FetchErrors.Inc()
		return fmt.Errorf("decoding %s rows: %w", table, err)
	}

	return nil
}
