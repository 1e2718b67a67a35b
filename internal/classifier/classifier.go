// Package classifier decides whether a tweet carries a poll worth alerting
// on and, when it does, builds the normalized record consumed by the
// notifier and the recorder.
package classifier

import (
	"fmt"
	"strings"

	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/timefmt"
	"github.com/sirupsen/logrus"
)

// UnknownUser is the fallback when the payload lacks the user expansion.
const UnknownUser = "Unknown"

// Classifier applies the relevance predicates for one rule set. It holds no
// mutable state and is safe to share.
type Classifier struct {
	candidates []string // lower-cased once at construction
	blocklist  []string // lower-cased once at construction
}

// New builds a classifier for the given candidate names and blocklist terms.
func New(candidateNames, blocklist []string) *Classifier {
	return &Classifier{
		candidates: lowerAll(candidateNames),
		blocklist:  lowerAll(blocklist),
	}
}

// Classify inspects every poll attached to the envelope, in order, and
// returns a record for the first relevant one. A nil record with a nil error
// means the envelope was filtered out; a non-nil error means a timestamp
// matched neither known format, which is a data-integrity failure for this
// item rather than a filtering decision.
//
// Predicate order is fixed: empty options, then body blocklist, then
// candidate match. Matching is case-insensitive substring on both sides, so
// an option "Ruto2027" matches the candidate "Ruto".
func (c *Classifier) Classify(env *models.StreamEnvelope) (*models.PollRecord, error) {
	tweet := env.Data
	polls := env.Includes.Polls
	if len(polls) == 0 {
		logrus.Debugf("Tweet %s carries no poll expansion", tweet.ID)
		return nil, nil
	}

	username := UnknownUser
	if len(env.Includes.Users) > 0 && env.Includes.Users[0].Username != "" {
		username = env.Includes.Users[0].Username
	}
	authorID := tweet.AuthorID
	if authorID == "" {
		authorID = UnknownUser
	}

	bodyLower := strings.ToLower(tweet.Text)

	for _, poll := range polls {
		if len(poll.Options) == 0 {
			logrus.Warnf("Tweet %s has a poll with no options, skipping", tweet.ID)
			continue
		}

		if term, hit := c.blocklistHit(bodyLower); hit {
			logrus.Infof("Tweet %s is a poll but its text contains blocklisted term %q", tweet.ID, term)
			continue
		}

		if !c.optionsMentionCandidate(poll.Options) {
			logrus.Infof("Tweet %s is a poll but no candidate names found in options: %s",
				tweet.ID, joinLabels(poll.Options, ", "))
			continue
		}

		logrus.Infof("Tweet %s is a relevant poll with candidate names", tweet.ID)

		record, err := c.buildRecord(tweet, poll, username, authorID)
		if err != nil {
			return nil, fmt.Errorf("tweet %s: %w", tweet.ID, err)
		}
		return record, nil
	}

	return nil, nil
}

func (c *Classifier) blocklistHit(bodyLower string) (string, bool) {
	for _, term := range c.blocklist {
		if strings.Contains(bodyLower, term) {
			return term, true
		}
	}
	return "", false
}

func (c *Classifier) optionsMentionCandidate(options []models.PollOption) bool {
	for _, opt := range options {
		labelLower := strings.ToLower(opt.Label)
		for _, candidate := range c.candidates {
			if strings.Contains(labelLower, candidate) {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) buildRecord(tweet models.Tweet, poll models.Poll, username, authorID string) (*models.PollRecord, error) {
	createdAt, createdAtEAT, err := timefmt.Normalize(tweet.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}

	pollEnd, pollEndEAT, err := timefmt.Normalize(poll.EndDatetime)
	if err != nil {
		return nil, fmt.Errorf("end_datetime: %w", err)
	}

	options := make([]string, 0, len(poll.Options))
	for _, opt := range poll.Options {
		options = append(options, opt.Label)
	}

	return &models.PollRecord{
		TweetID:         tweet.ID,
		AuthorID:        authorID,
		Username:        username,
		Text:            tweet.Text,
		CreatedAtRaw:    tweet.CreatedAt,
		CreatedAt:       createdAt,
		CreatedAtEAT:    createdAtEAT,
		PollEndRaw:      poll.EndDatetime,
		PollEnd:         pollEnd,
		PollEndEAT:      pollEndEAT,
		DurationMinutes: poll.DurationMinutes,
		VotingStatus:    poll.VotingStatus,
		Options:         options,
	}, nil
}

func lowerAll(terms []string) []string {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(t))
	}
	return lowered
}

func joinLabels(options []models.PollOption, sep string) string {
	labels := make([]string, 0, len(options))
	for _, opt := range options {
		labels = append(labels, opt.Label)
	}
	return strings.Join(labels, sep)
}
