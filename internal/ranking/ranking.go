// Package ranking derives ordered leaderboards from raw submission and score
// records, caching each result briefly so bursts of events do not translate
// into bursts of record-store queries.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hackfest/leaderboard/internal/metrics"
	"github.com/hackfest/leaderboard/internal/records"
)

// Entry represents one submission's ranked, aggregated view of its scores
type Entry struct {
	Rank         int       `json:"rank"`
	SubmissionID string    `json:"submission_id"`
	TeamID       string    `json:"team_id"`
	TeamName     string    `json:"team_name"`
	TrackID      string    `json:"track_id"`
	TrackName    string    `json:"track_name"`
	Title        string    `json:"title"`
	AverageScore float64   `json:"average_score"`
	ScoreCount   int       `json:"score_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Update is the payload broadcast to viewers when a leaderboard changes
type Update struct {
	Type      string  `json:"type"`
	Data      []Entry `json:"data"`
	Timestamp string  `json:"timestamp"`
}

// Store is the slice of the record store the calculator reads
type Store interface {
	Submissions(ctx context.Context, competition string) ([]records.Submission, error)
	Scores(ctx context.Context, submissionIDs []string) ([]records.Score, error)
}

// Calculator computes leaderboards for competitions, with a TTL cache.
// Concurrent misses for the same competition each recompute independently;
// duplicate work, not a correctness problem.
type Calculator struct {
	store Store
	cache *Cache
}

// New returns a Calculator reading from store, caching results for ttl
func New(store Store, ttl time.Duration) *Calculator {
	return &Calculator{
		store: store,
		cache: NewCache(ttl),
	}
}

// CalculateLeaderboard returns the ranked leaderboard for a competition,
// from cache if a fresh entry exists, otherwise computed from the record
// store. Fetch errors are returned, not retried; any previous cache entry
// is left in place until it expires or a later computation replaces it.
func (c *Calculator) CalculateLeaderboard(ctx context.Context, competition string) ([]Entry, error) {

	if rankings, ok := c.cache.Get(competition); ok {
		metrics.CacheHits.Inc()
		return rankings, nil
	}
	metrics.CacheMisses.Inc()

	submissions, err := c.store.Submissions(ctx, competition)
	if err != nil {
		return nil, err
	}

	submissionIDs := make([]string, len(submissions))
	for i, submission := range submissions {
		submissionIDs[i] = submission.ID
	}

	scores, err := c.store.Scores(ctx, submissionIDs)
	if err != nil {
		return nil, err
	}

	rankings := rank(submissions, scores)

	c.cache.Set(competition, rankings)

	log.WithFields(log.Fields{"competition": competition, "entries": len(rankings)}).Debug("leaderboard computed")

	return rankings, nil
}

// InvalidateCache drops any cached leaderboard for a competition so the next
// read is computed fresh
func (c *Calculator) InvalidateCache(competition string) {
	c.cache.Invalidate(competition)
}

// Snapshot returns the current leaderboard for a competition marshalled as
// an update payload, ready for delivery to a viewer.
func (c *Calculator) Snapshot(ctx context.Context, competition string) ([]byte, error) {
	rankings, err := c.CalculateLeaderboard(ctx, competition)
	if err != nil {
		return nil, err
	}
	return MarshalUpdate(rankings)
}

// Close stops the calculator's cache maintenance
func (c *Calculator) Close() {
	c.cache.Close()
}

// MarshalUpdate wraps rankings in the leaderboard_update envelope
func MarshalUpdate(rankings []Entry) ([]byte, error) {
	update := Update{
		Type:      "leaderboard_update",
		Data:      rankings,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshalling leaderboard update: %w", err)
	}
	return data, nil
}

// aggregate holds one submission's score tally
type aggregate struct {
	total float64
	count int
}

// rank aggregates scores per submission and produces entries ordered by
// average score descending, with unscored submissions always last and ranks
// assigned as a contiguous 1..N sequence. The sort is stable; ties between
// equal averages keep submission order as fetched.
func rank(submissions []records.Submission, scores []records.Score) []Entry {

	tally := make(map[string]aggregate)

	for _, score := range scores {
		a := tally[score.SubmissionID]
		a.total += score.Score
		a.count++
		tally[score.SubmissionID] = a
	}

	now := time.Now().UTC()

	rankings := make([]Entry, 0, len(submissions))

	for _, submission := range submissions {

		entry := Entry{
			SubmissionID: submission.ID,
			TeamID:       submission.TeamID,
			TeamName:     submission.TeamName,
			TrackID:      submission.TrackID,
			TrackName:    submission.TrackName,
			Title:        submission.Title,
			UpdatedAt:    now,
		}

		if a, ok := tally[submission.ID]; ok && a.count > 0 {
			entry.AverageScore = a.total / float64(a.count)
			entry.ScoreCount = a.count
		}

		rankings = append(rankings, entry)
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		// unscored submissions always sort last
		if rankings[i].ScoreCount == 0 && rankings[j].ScoreCount > 0 {
			return false
		}
		if rankings[i].ScoreCount > 0 && rankings[j].ScoreCount == 0 {
			return true
		}
		return rankings[i].AverageScore > rankings[j].AverageScore
	})

	for i := range rankings {
		rankings[i].Rank = i + 1
	}

	return rankings
}
