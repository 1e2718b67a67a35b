package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kenyapolls/poll-detector-bot/internal/retry"
	"github.com/sirupsen/logrus"
)

const rulesPath = "/2/tweets/search/stream/rules"

// streamRuleTag labels the single rule this bot owns on the stream.
const streamRuleTag = "Kenya President Poll Detector"

type rulesResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"data"`
}

type deleteRulesRequest struct {
	Delete struct {
		IDs []string `json:"ids"`
	} `json:"delete"`
}

type addRulesRequest struct {
	Add []struct {
		Value string `json:"value"`
		Tag   string `json:"tag"`
	} `json:"add"`
}

// installRule makes the server-side filter converge to exactly one rule:
// list whatever is there, delete it all, add ours. Running it again after a
// restart lands in the same state.
func (s *StreamConsumer) installRule(ctx context.Context) error {
	policy := retry.Policy{
		Name:     "stream rule setup",
		Attempts: 3,
		Delay:    retry.Fixed(s.ruleRetryDelay),
	}

	return policy.Do(ctx, func() error {
		existing, err := s.listRules(ctx)
		if err != nil {
			return err
		}
		logrus.Infof("Current stream rules: %d", len(existing))

		if len(existing) > 0 {
			if err := s.deleteRules(ctx, existing); err != nil {
				return err
			}
			logrus.Infof("Deleted stream rules: %v", existing)
		}

		if err := s.addRule(ctx); err != nil {
			return err
		}

		logrus.Info("Stream rule set successfully")
		return nil
	})
}

func (s *StreamConsumer) listRules(ctx context.Context) ([]string, error) {
	resp, err := s.api.R().
		SetContext(ctx).
		Get(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stream rules: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("rules endpoint returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var rules rulesResponse
	if err := json.Unmarshal(resp.Body(), &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules response: %w", err)
	}

	ids := make([]string, 0, len(rules.Data))
	for _, rule := range rules.Data {
		ids = append(ids, rule.ID)
	}
	return ids, nil
}

func (s *StreamConsumer) deleteRules(ctx context.Context, ids []string) error {
	var payload deleteRulesRequest
	payload.Delete.IDs = ids

	resp, err := s.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(rulesPath)
	if err != nil {
		return fmt.Errorf("failed to delete stream rules: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("rule deletion returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

func (s *StreamConsumer) addRule(ctx context.Context) error {
	payload := addRulesRequest{
		Add: []struct {
			Value string `json:"value"`
			Tag   string `json:"tag"`
		}{
			{Value: s.rule, Tag: streamRuleTag},
		},
	}

	resp, err := s.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(rulesPath)
	if err != nil {
		return fmt.Errorf("failed to add stream rule: %w", err)
	}
	if resp.StatusCode() != 201 {
		return fmt.Errorf("rule creation returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}
