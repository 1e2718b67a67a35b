// Package ingest holds the two ways raw events enter the pipeline: a
// long-lived filtered-stream consumer and a single-shot recent-search run.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kenyapolls/poll-detector-bot/internal/metrics"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/pipeline"
	"github.com/kenyapolls/poll-detector-bot/internal/retry"
	"github.com/sirupsen/logrus"
)

const (
	streamPath = "/2/tweets/search/stream"

	// Field selection shared by the stream and search endpoints.
	tweetFields = "created_at,attachments,author_id,text"
	expansions  = "attachments.poll_ids,author_id"
	pollFields  = "duration_minutes,end_datetime,voting_status,options"
	userFields  = "username"
)

var errRateLimited = errors.New("rate limited")

// StreamConsumer owns the filtered-stream connection. It installs the
// server-side rule, then reads newline-delimited JSON envelopes for the
// lifetime of the process, reconnecting with exponential backoff.
type StreamConsumer struct {
	api       *resty.Client // rules sub-protocol, bounded per-request timeout
	stream    *resty.Client // raw body left unparsed for line reading
	processor *pipeline.Processor

	rule           string
	maxRetries     int
	baseDelay      time.Duration
	backoff        func(attempt int) time.Duration
	heartbeat      time.Duration
	ruleRetryDelay time.Duration
}

// NewStreamConsumer creates a consumer for the given bearer token and
// filter rule.
func NewStreamConsumer(bearerToken, rule string, processor *pipeline.Processor) *StreamConsumer {
	// The stream client must not carry an overall timeout: a healthy
	// connection stays open indefinitely. Each attempt is bounded by the
	// dial and response-header timeouts instead.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	baseDelay := 15 * time.Second
	return &StreamConsumer{
		api: resty.New().
			SetBaseURL("https://api.twitter.com").
			SetTimeout(30 * time.Second).
			SetHeader("User-Agent", "poll-detector-bot/1.0").
			SetAuthToken(bearerToken),
		stream: resty.New().
			SetBaseURL("https://api.twitter.com").
			SetTransport(transport).
			SetDoNotParseResponse(true).
			SetHeader("User-Agent", "poll-detector-bot/1.0").
			SetAuthToken(bearerToken),
		processor:      processor,
		rule:           rule,
		maxRetries:     10,
		baseDelay:      baseDelay,
		backoff:        retry.ExponentialJitter(baseDelay, time.Second),
		heartbeat:      5 * time.Minute,
		ruleRetryDelay: 2 * time.Second,
	}
}

// Run installs the filter rule and then consumes the stream until the
// context is cancelled (returns nil) or the reconnect budget is spent
// (returns the last error). The stream is never opened when rule
// installation fails.
func (s *StreamConsumer) Run(ctx context.Context) error {
	if err := s.installRule(ctx); err != nil {
		return fmt.Errorf("refusing to start stream: %w", err)
	}

	retries := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		logrus.Info("Starting poll detection stream...")
		connected, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			logrus.Info("Stopping poll detection stream")
			return nil
		}
		if connected {
			// A successful open resets the budget; this failure is
			// the first of a new episode.
			retries = 0
		}

		delay := s.backoff(retries)
		retries++
		metrics.StreamReconnects.Inc()

		if retries >= s.maxRetries {
			return fmt.Errorf("stream gave up after %d attempts: %w", s.maxRetries, err)
		}

		if errors.Is(err, errRateLimited) {
			logrus.Warnf("Rate limit hit (429). Retrying in %v...", delay)
		} else {
			logrus.Errorf("Stream error: %v. Reconnecting in %v...", err, delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// connectAndRead opens the stream and reads lines until the connection
// breaks. The bool reports whether the connection was opened successfully.
func (s *StreamConsumer) connectAndRead(ctx context.Context) (bool, error) {
	resp, err := s.stream.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"tweet.fields": tweetFields,
			"expansions":   expansions,
			"poll.fields":  pollFields,
			"user.fields":  userFields,
		}).
		Get(streamPath)
	if err != nil {
		return false, fmt.Errorf("stream connection failed: %w", err)
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() == 429 {
		return false, fmt.Errorf("stream connection: %w", errRateLimited)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("stream connection failed with status %d", resp.StatusCode())
	}

	logrus.Info("Stream connected. Listening for tweets...")

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastHeartbeat := time.Now()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return true, nil
		}

		if time.Since(lastHeartbeat) > s.heartbeat {
			logrus.Info("Stream is still active...")
			lastHeartbeat = time.Now()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			// Keep-alive newline.
			continue
		}

		var env models.StreamEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			logrus.Errorf("Skipping malformed stream line: %v - %s", err, string(line))
			continue
		}

		if _, err := s.processor.Process(&env); err != nil {
			logrus.Errorf("Dropping event with malformed data: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("stream read failed: %w", err)
	}
	return true, errors.New("stream closed by server")
}

// baseURL overrides the API endpoint, used by tests.
func (s *StreamConsumer) baseURL(url string) *StreamConsumer {
	s.api.SetBaseURL(url)
	s.stream.SetBaseURL(url)
	return s
}
