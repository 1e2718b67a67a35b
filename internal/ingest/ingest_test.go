package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kenyapolls/poll-detector-bot/internal/classifier"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*models.PollRecord
}

func (n *fakeNotifier) Send(r *models.PollRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, r)
}

func (n *fakeNotifier) records() []*models.PollRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.PollRecord(nil), n.sent...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	appended []*models.PollRecord
}

func (r *fakeRecorder) Append(rec *models.PollRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, rec)
}

type fakeStore struct {
	snapshot   map[string]struct{}
	fetchErr   error
	updateErr  error
	updated    []string
	updateSeen map[string]struct{}
}

func (s *fakeStore) Fetch(ctx context.Context) (map[string]struct{}, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.snapshot, nil
}

func (s *fakeStore) Update(ctx context.Context, existing map[string]struct{}, newIDs []string) error {
	s.updateSeen = existing
	s.updated = append(s.updated, newIDs...)
	return s.updateErr
}

func newTestProcessor(strategy string) (*pipeline.Processor, *fakeNotifier, *fakeRecorder) {
	c := classifier.New([]string{"Ruto", "Kalonzo"}, []string{"movie", "sport"})
	n := &fakeNotifier{}
	r := &fakeRecorder{}
	return pipeline.New(c, n, r, strategy), n, r
}

func relevantEnvelopeJSON(id string) string {
	env := models.StreamEnvelope{
		Data: models.Tweet{
			ID:        id,
			Text:      "Who takes it in 2027?",
			AuthorID:  "4711",
			CreatedAt: "2024-08-09T12:00:00.000Z",
			Attachments: &models.Attachments{
				PollIDs: []string{"poll-" + id},
			},
		},
		Includes: models.Includes{
			Polls: []models.Poll{{
				ID:           "poll-" + id,
				EndDatetime:  "2024-08-10T12:00:00.000Z",
				VotingStatus: "open",
				Options: []models.PollOption{
					{Position: 1, Label: "Ruto"},
					{Position: 2, Label: "Someone else"},
				},
			}},
			Users: []models.User{{ID: "4711", Username: "pollwatcher"}},
		},
	}
	data, _ := json.Marshal(env)
	return string(data)
}

// --- rule installation ---

func TestInstallRule_DeletesExistingThenAddsOne(t *testing.T) {
	var deleted deleteRulesRequest
	var added addRulesRequest
	var deleteCalled, addCalled bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, rulesPath, r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		if r.Method == http.MethodGet {
			w.Write([]byte(`{"data":[{"id":"r1","value":"old"},{"id":"r2","value":"older"}]}`))
			return
		}

		body := json.RawMessage{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if json.Unmarshal(body, &deleted) == nil && len(deleted.Delete.IDs) > 0 && !deleteCalled {
			deleteCalled = true
			w.Write([]byte(`{}`))
			return
		}

		require.NoError(t, json.Unmarshal(body, &added))
		addCalled = true
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	proc, _, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "(vote OR pick) poll", proc).baseURL(server.URL)

	require.NoError(t, s.installRule(context.Background()))

	assert.True(t, deleteCalled)
	assert.Equal(t, []string{"r1", "r2"}, deleted.Delete.IDs)
	require.True(t, addCalled)
	require.Len(t, added.Add, 1)
	assert.Equal(t, "(vote OR pick) poll", added.Add[0].Value)
	assert.Equal(t, streamRuleTag, added.Add[0].Tag)
}

func TestInstallRule_NoExistingRules(t *testing.T) {
	var deleteCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{}`))
			return
		}
		var probe deleteRulesRequest
		data := json.RawMessage{}
		json.NewDecoder(r.Body).Decode(&data)
		if json.Unmarshal(data, &probe) == nil && len(probe.Delete.IDs) > 0 {
			deleteCalled = true
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	proc, _, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)

	require.NoError(t, s.installRule(context.Background()))
	assert.False(t, deleteCalled)
}

func TestInstallRule_GivesUpAfterThreeAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	proc, _, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)
	s.ruleRetryDelay = time.Millisecond

	err := s.installRule(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

// --- streaming ---

func TestStream_ProcessesLinesAndSkipsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case rulesPath:
			if r.Method == http.MethodGet {
				w.Write([]byte(`{}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
		case streamPath:
			assert.Equal(t, tweetFields, r.URL.Query().Get("tweet.fields"))
			assert.Equal(t, expansions, r.URL.Query().Get("expansions"))

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(relevantEnvelopeJSON("100") + "\n"))
			w.Write([]byte("{this is not json\n"))
			w.Write([]byte("\n"))
			w.Write([]byte(relevantEnvelopeJSON("200") + "\n"))
		}
	}))
	defer server.Close()

	proc, notifier, rec := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)
	s.maxRetries = 1
	s.backoff = func(int) time.Duration { return 0 }

	// The server closes the stream after four lines; with a budget of one
	// attempt the consumer reports exhaustion.
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 1 attempts")

	sent := notifier.records()
	require.Len(t, sent, 2)
	assert.Equal(t, "100", sent[0].TweetID)
	assert.Equal(t, "200", sent[1].TweetID)
	assert.Len(t, rec.appended, 2)
}

func TestStream_RateLimitBackoffEscalates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case rulesPath:
			if r.Method == http.MethodGet {
				w.Write([]byte(`{}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
		case streamPath:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	proc, notifier, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)
	s.maxRetries = 3

	var attempts []int
	s.backoff = func(attempt int) time.Duration {
		attempts = append(attempts, attempt)
		return 0
	}

	err := s.Run(context.Background())
	require.Error(t, err)

	// The attempt counter never resets because no connection succeeds, so
	// the power-of-two exponent keeps climbing.
	assert.Equal(t, []int{0, 1, 2}, attempts)
	assert.Empty(t, notifier.records())
}

func TestStream_NotStartedWhenRuleSetupFails(t *testing.T) {
	var streamHit bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == streamPath {
			streamHit = true
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	proc, _, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)
	s.ruleRetryDelay = time.Millisecond

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to start stream")
	assert.False(t, streamHit)
}

func TestStream_CancelledContextExitsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case rulesPath:
			if r.Method == http.MethodGet {
				w.Write([]byte(`{}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
		case streamPath:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(relevantEnvelopeJSON("100") + "\n"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			cancel()
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	proc, _, _ := newTestProcessor("stream")
	s := NewStreamConsumer("token", "rule", proc).baseURL(server.URL)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not exit after context cancellation")
	}
}

// --- batch ---

func searchBody(tweets ...string) string {
	return `{"data":[` + strings.Join(tweets, ",") + `],` + sharedIncludes +
		`,"meta":{"result_count":` + strconv.Itoa(len(tweets)) + `}}`
}

const sharedIncludes = `"includes":{"polls":[
	{"id":"poll-100","duration_minutes":1440,"end_datetime":"2024-08-10T12:00:00.000Z","voting_status":"open",
	 "options":[{"position":1,"label":"Ruto2027"},{"position":2,"label":"Matiangi Jr"}]},
	{"id":"poll-200","duration_minutes":60,"end_datetime":"2024-08-10T12:00:00.000Z","voting_status":"open",
	 "options":[{"position":1,"label":"Kalonzo"},{"position":2,"label":"Other"}]}],
	"users":[{"id":"4711","username":"pollwatcher"},{"id":"4712","username":"otheruser"}]}`

func tweetJSON(id, authorID, pollID, text string) string {
	return `{"id":"` + id + `","text":"` + text + `","author_id":"` + authorID +
		`","created_at":"2024-08-09T12:00:00.000Z","attachments":{"poll_ids":["` + pollID + `"]}}`
}

func TestBatch_SkipsSeenAndRecordsNew(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, searchPath, r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("max_results"))
		assert.NotEmpty(t, r.URL.Query().Get("start_time"))

		w.Write([]byte(searchBody(
			tweetJSON("100", "4711", "poll-100", "Who will win?"),
			tweetJSON("200", "4712", "poll-200", "Next president?"),
		)))
	}))
	defer server.Close()

	store := &fakeStore{snapshot: map[string]struct{}{"200": {}}}
	proc, notifier, _ := newTestProcessor("batch")
	b := NewBatchRunner("token", "poll query", 120*time.Minute, store, proc).baseURL(server.URL)

	require.NoError(t, b.Run(context.Background()))

	// Tweet 200 is in the snapshot and must not be re-alerted.
	sent := notifier.records()
	require.Len(t, sent, 1)
	assert.Equal(t, "100", sent[0].TweetID)
	assert.Equal(t, []string{"Ruto2027", "Matiangi Jr"}, sent[0].Options)

	assert.Equal(t, []string{"100"}, store.updated)
	assert.Contains(t, store.updateSeen, "200")
}

func TestBatch_NoUpdateWhenNothingNew(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchBody(tweetJSON("200", "4712", "poll-200", "Next president?"))))
	}))
	defer server.Close()

	store := &fakeStore{snapshot: map[string]struct{}{"200": {}}}
	proc, notifier, _ := newTestProcessor("batch")
	b := NewBatchRunner("token", "poll query", 120*time.Minute, store, proc).baseURL(server.URL)

	require.NoError(t, b.Run(context.Background()))

	assert.Empty(t, notifier.records())
	assert.Empty(t, store.updated)
}

func TestBatch_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(searchBody(tweetJSON("100", "4711", "poll-100", "Who will win?"))))
	}))
	defer server.Close()

	store := &fakeStore{snapshot: map[string]struct{}{}}
	proc, notifier, _ := newTestProcessor("batch")
	b := NewBatchRunner("token", "poll query", 120*time.Minute, store, proc).baseURL(server.URL)
	b.rateLimitDelay = time.Millisecond

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 3, calls)
	assert.Len(t, notifier.records(), 1)
}

func TestBatch_PersistentRateLimitAbortsQuietly(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	store := &fakeStore{snapshot: map[string]struct{}{}}
	proc, notifier, _ := newTestProcessor("batch")
	b := NewBatchRunner("token", "poll query", 120*time.Minute, store, proc).baseURL(server.URL)
	b.rateLimitDelay = time.Millisecond

	// The run is absorbed: no error escapes to the scheduler.
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 3, calls)
	assert.Empty(t, notifier.records())
	assert.Empty(t, store.updated)
}

func TestBatch_FetchFailureFallsBackToEmptySnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchBody(tweetJSON("100", "4711", "poll-100", "Who will win?"))))
	}))
	defer server.Close()

	store := &fakeStore{fetchErr: context.DeadlineExceeded}
	proc, notifier, _ := newTestProcessor("batch")
	b := NewBatchRunner("token", "poll query", 120*time.Minute, store, proc).baseURL(server.URL)

	require.NoError(t, b.Run(context.Background()))

	assert.Len(t, notifier.records(), 1)
	assert.Equal(t, []string{"100"}, store.updated)
}

func TestAssembleEnvelope(t *testing.T) {
	tweet := models.Tweet{
		ID:       "100",
		AuthorID: "4711",
		Attachments: &models.Attachments{
			PollIDs: []string{"poll-b"},
		},
	}
	includes := models.Includes{
		Polls: []models.Poll{
			{ID: "poll-a"},
			{ID: "poll-b", VotingStatus: "open"},
		},
		Users: []models.User{
			{ID: "4712", Username: "otheruser"},
			{ID: "4711", Username: "pollwatcher"},
		},
	}

	env := assembleEnvelope(tweet, includes)

	require.Len(t, env.Includes.Polls, 1)
	assert.Equal(t, "poll-b", env.Includes.Polls[0].ID)
	require.Len(t, env.Includes.Users, 1)
	assert.Equal(t, "pollwatcher", env.Includes.Users[0].Username)
}

func TestAssembleEnvelope_NoAttachments(t *testing.T) {
	env := assembleEnvelope(models.Tweet{ID: "100", AuthorID: "9"}, models.Includes{})

	assert.Empty(t, env.Includes.Polls)
	assert.Empty(t, env.Includes.Users)
}
