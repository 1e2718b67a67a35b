package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kenyapolls/poll-detector-bot/internal/dedup"
	"github.com/kenyapolls/poll-detector-bot/internal/metrics"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/pipeline"
	"github.com/kenyapolls/poll-detector-bot/internal/retry"
	"github.com/sirupsen/logrus"
)

const searchPath = "/2/tweets/search/recent"

// searchResponse is the recent-search payload: a flat list of tweets with
// one shared includes block, unlike the stream which wraps each tweet in
// its own envelope.
type searchResponse struct {
	Data     []models.Tweet  `json:"data"`
	Includes models.Includes `json:"includes"`
	Meta     struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

// BatchRunner performs one bounded-window search pass, deduplicating
// against the remote id store.
type BatchRunner struct {
	client    *resty.Client
	processor *pipeline.Processor
	store     dedup.Store

	query          string
	window         time.Duration
	maxResults     int
	rateLimitDelay time.Duration
}

// NewBatchRunner creates a runner for the given bearer token, search query
// and lookback window.
func NewBatchRunner(bearerToken, query string, window time.Duration, store dedup.Store, processor *pipeline.Processor) *BatchRunner {
	return &BatchRunner{
		client: resty.New().
			SetBaseURL("https://api.twitter.com").
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "poll-detector-bot/1.0").
			SetAuthToken(bearerToken),
		processor:      processor,
		store:          store,
		query:          query,
		window:         window,
		maxResults:     100,
		rateLimitDelay: 60 * time.Second,
	}
}

// Run executes one pass: search, skip already-seen ids, classify the rest,
// and merge the newly processed ids back into the store. Failures are
// absorbed; the scheduler keeps invoking runs regardless.
func (b *BatchRunner) Run(ctx context.Context) error {
	search, err := b.search(ctx)
	if err != nil {
		logrus.Errorf("Batch run aborted, search failed: %v", err)
		return nil
	}

	logrus.Infof("Search returned %d tweets", len(search.Data))
	if len(search.Data) == 0 {
		return nil
	}

	snapshot, err := b.store.Fetch(ctx)
	if err != nil {
		logrus.Errorf("Dedup store fetch failed, proceeding with an empty snapshot: %v", err)
		snapshot = map[string]struct{}{}
	}

	var newIDs []string
	for i := range search.Data {
		tweet := search.Data[i]
		if _, seen := snapshot[tweet.ID]; seen {
			metrics.DedupSkips.Inc()
			logrus.Debugf("Tweet %s already processed, skipping", tweet.ID)
			continue
		}

		env := assembleEnvelope(tweet, search.Includes)
		record, err := b.processor.Process(env)
		if err != nil {
			logrus.Errorf("Dropping event with malformed data: %v", err)
			continue
		}
		if record != nil {
			newIDs = append(newIDs, tweet.ID)
		}
	}

	if len(newIDs) == 0 {
		logrus.Info("Batch run produced no new polls")
		return nil
	}

	// Union with the snapshot fetched at the start of the run; existing
	// entries are never deleted.
	if err := b.store.Update(ctx, snapshot, newIDs); err != nil {
		logrus.Errorf("Dedup store update failed, next run may re-alert: %v", err)
	}

	logrus.Infof("Batch run completed with %d new polls", len(newIDs))
	return nil
}

// search queries the recent-search endpoint, retrying rate limits with a
// fixed delay up to three attempts total.
func (b *BatchRunner) search(ctx context.Context) (*searchResponse, error) {
	policy := retry.Policy{
		Name:      "recent search",
		Attempts:  3,
		Delay:     retry.Fixed(b.rateLimitDelay),
		Retryable: func(err error) bool { return errors.Is(err, errRateLimited) },
	}

	var result searchResponse
	err := policy.Do(ctx, func() error {
		startTime := time.Now().Add(-b.window).UTC().Format(time.RFC3339)

		resp, err := b.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query":        b.query,
				"start_time":   startTime,
				"max_results":  fmt.Sprintf("%d", b.maxResults),
				"tweet.fields": tweetFields,
				"expansions":   expansions,
				"poll.fields":  pollFields,
				"user.fields":  userFields,
			}).
			Get(searchPath)
		if err != nil {
			return fmt.Errorf("search request failed: %w", err)
		}
		if resp.StatusCode() == 429 {
			return fmt.Errorf("recent search: %w", errRateLimited)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("search returned status %d: %s", resp.StatusCode(), string(resp.Body()))
		}

		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return fmt.Errorf("failed to parse search response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// assembleEnvelope reshapes one search result into the per-tweet envelope
// the classifier expects, attaching only the polls referenced by the tweet
// and the author's user object.
func assembleEnvelope(tweet models.Tweet, includes models.Includes) *models.StreamEnvelope {
	env := &models.StreamEnvelope{Data: tweet}

	if tweet.Attachments != nil {
		for _, pollID := range tweet.Attachments.PollIDs {
			for _, poll := range includes.Polls {
				if poll.ID == pollID {
					env.Includes.Polls = append(env.Includes.Polls, poll)
				}
			}
		}
	}

	for _, user := range includes.Users {
		if user.ID == tweet.AuthorID {
			env.Includes.Users = append(env.Includes.Users, user)
			break
		}
	}

	return env
}

// baseURL overrides the API endpoint, used by tests.
func (b *BatchRunner) baseURL(url string) *BatchRunner {
	b.client.SetBaseURL(url)
	return b
}
