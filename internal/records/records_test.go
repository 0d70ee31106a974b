package records

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissions(t *testing.T) {

	var gotPath, gotAuth string
	var gotFilter map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotFilter))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[{"id":"S1","hackathon_id":"H1","team_id":"T1","team_name":"alpha","title":"proj"}]}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Project: "p1", Token: "tok"})

	submissions, err := c.Submissions(context.Background(), "H1")

	assert.NoError(t, err)
	assert.Equal(t, "/v1/public/projects/p1/database/tables/submissions/query", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, map[string]interface{}{"filter": map[string]interface{}{"hackathon_id": "H1"}}, gotFilter)

	assert.Len(t, submissions, 1)
	assert.Equal(t, "S1", submissions[0].ID)
	assert.Equal(t, "H1", submissions[0].CompetitionID)
	assert.Equal(t, "alpha", submissions[0].TeamName)
}

func TestScores(t *testing.T) {

	var gotPath string
	var gotFilter map[string]interface{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotFilter))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[{"id":"sc1","submission_id":"S1","judge_id":"J1","score":8.5}]}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Project: "p1", Token: "tok"})

	scores, err := c.Scores(context.Background(), []string{"S1", "S2"})

	assert.NoError(t, err)
	assert.Equal(t, "/v1/public/projects/p1/database/tables/scores/query", gotPath)

	want := map[string]interface{}{
		"filter": map[string]interface{}{
			"submission_id": map[string]interface{}{
				"$in": []interface{}{"S1", "S2"},
			},
		},
	}
	assert.Equal(t, want, gotFilter)

	assert.Len(t, scores, 1)
	assert.Equal(t, 8.5, scores[0].Score)
}

func TestScoresEmptyIDSet(t *testing.T) {

	// no query should be issued for an empty ID set
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Project: "p1", Token: "tok"})

	scores, err := c.Scores(context.Background(), []string{})

	assert.NoError(t, err)
	assert.Len(t, scores, 0)
}

func TestQueryErrorStatus(t *testing.T) {

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Project: "p1", Token: "tok"})

	_, err := c.Submissions(context.Background(), "H1")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestQueryBadBody(t *testing.T) {

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Project: "p1", Token: "tok"})

	_, err := c.Submissions(context.Background(), "H1")

	assert.Error(t, err)
}
