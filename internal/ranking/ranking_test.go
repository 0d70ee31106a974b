package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hackfest/leaderboard/internal/records"
)

// fakeStore serves canned submissions and scores, counting fetches
type fakeStore struct {
	submissions []records.Submission
	scores      []records.Score
	err         error

	submissionFetches int
	scoreFetches      int
	lastScoreIDs      []string
}

func (f *fakeStore) Submissions(ctx context.Context, competition string) ([]records.Submission, error) {
	f.submissionFetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.submissions, nil
}

func (f *fakeStore) Scores(ctx context.Context, submissionIDs []string) ([]records.Score, error) {
	f.scoreFetches++
	f.lastScoreIDs = submissionIDs
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

func submission(id string) records.Submission {
	return records.Submission{ID: id, CompetitionID: "H1", TeamID: "t-" + id, TeamName: "team " + id, Title: "project " + id}
}

func score(submissionID string, value float64) records.Score {
	return records.Score{SubmissionID: submissionID, JudgeID: "j1", Score: value}
}

func TestUnscoredAlwaysLast(t *testing.T) {

	store := &fakeStore{
		submissions: []records.Submission{submission("S1"), submission("S2")},
		scores:      []records.Score{score("S2", 8), score("S2", 10)},
	}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Len(t, rankings, 2)

	assert.Equal(t, "S2", rankings[0].SubmissionID)
	assert.Equal(t, 1, rankings[0].Rank)
	assert.Equal(t, 9.0, rankings[0].AverageScore)
	assert.Equal(t, 2, rankings[0].ScoreCount)

	assert.Equal(t, "S1", rankings[1].SubmissionID)
	assert.Equal(t, 2, rankings[1].Rank)
	assert.Equal(t, 0.0, rankings[1].AverageScore)
	assert.Equal(t, 0, rankings[1].ScoreCount)
}

func TestRankContiguity(t *testing.T) {

	store := &fakeStore{
		submissions: []records.Submission{
			submission("S1"), submission("S2"), submission("S3"), submission("S4"),
		},
		scores: []records.Score{
			score("S1", 5), score("S2", 7.5), score("S3", 7.5), score("S4", 2),
			score("S4", 4),
		},
	}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Len(t, rankings, 4)

	for i, entry := range rankings {
		assert.Equal(t, i+1, entry.Rank)
	}

	for i := 0; i < len(rankings)-1; i++ {
		if rankings[i+1].ScoreCount > 0 {
			assert.GreaterOrEqual(t, rankings[i].AverageScore, rankings[i+1].AverageScore)
		}
	}
}

func TestStableTies(t *testing.T) {

	// equal averages keep fetch order (no tie-break rule)
	store := &fakeStore{
		submissions: []records.Submission{submission("S1"), submission("S2"), submission("S3")},
		scores:      []records.Score{score("S1", 6), score("S2", 6), score("S3", 6)},
	}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Equal(t, "S1", rankings[0].SubmissionID)
	assert.Equal(t, "S2", rankings[1].SubmissionID)
	assert.Equal(t, "S3", rankings[2].SubmissionID)
}

func TestAverageCorrectness(t *testing.T) {

	values := []float64{3.5, 7.25, 9, 4.75}

	scores := []records.Score{}
	sum := 0.0
	for _, v := range values {
		scores = append(scores, score("S1", v))
		sum += v
	}

	store := &fakeStore{
		submissions: []records.Submission{submission("S1")},
		scores:      scores,
	}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Len(t, rankings, 1)
	assert.InDelta(t, sum/float64(len(values)), rankings[0].AverageScore, 1e-9)
	assert.Equal(t, len(values), rankings[0].ScoreCount)
}

func TestEmptyCompetition(t *testing.T) {

	store := &fakeStore{}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Len(t, rankings, 0)
}

func TestScoresQueriedForFetchedSubmissionsOnly(t *testing.T) {

	store := &fakeStore{
		submissions: []records.Submission{submission("S1"), submission("S2")},
	}

	c := New(store, time.Second)
	defer c.Close()

	_, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2"}, store.lastScoreIDs)
	assert.Equal(t, 1, store.submissionFetches)
}

func TestCacheCoherence(t *testing.T) {

	store := &fakeStore{
		submissions: []records.Submission{submission("S1")},
		scores:      []records.Score{score("S1", 7)},
	}

	c := New(store, 250*time.Millisecond)
	defer c.Close()

	first, err := c.CalculateLeaderboard(context.Background(), "H1")
	assert.NoError(t, err)

	second, err := c.CalculateLeaderboard(context.Background(), "H1")
	assert.NoError(t, err)

	// served from cache: no second fetch, identical result
	assert.Equal(t, 1, store.submissionFetches)
	assert.Equal(t, first, second)

	// invalidation forces a fresh fetch
	c.InvalidateCache("H1")

	_, err = c.CalculateLeaderboard(context.Background(), "H1")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.submissionFetches)

	// expiry forces a fresh fetch
	time.Sleep(300 * time.Millisecond)

	_, err = c.CalculateLeaderboard(context.Background(), "H1")
	assert.NoError(t, err)
	assert.Equal(t, 3, store.submissionFetches)
}

func TestFetchErrorReturned(t *testing.T) {

	store := &fakeStore{err: errors.New("store unavailable")}

	c := New(store, time.Second)
	defer c.Close()

	rankings, err := c.CalculateLeaderboard(context.Background(), "H1")

	assert.Error(t, err)
	assert.Nil(t, rankings)
}

func TestMarshalUpdate(t *testing.T) {

	data, err := MarshalUpdate([]Entry{{Rank: 1, SubmissionID: "S2", AverageScore: 9, ScoreCount: 2}})

	assert.NoError(t, err)

	var update struct {
		Type      string  `json:"type"`
		Data      []Entry `json:"data"`
		Timestamp string  `json:"timestamp"`
	}

	assert.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, "leaderboard_update", update.Type)
	assert.Len(t, update.Data, 1)
	assert.Equal(t, "S2", update.Data[0].SubmissionID)

	_, err = time.Parse(time.RFC3339, update.Timestamp)
	assert.NoError(t, err)
}
