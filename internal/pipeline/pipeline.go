// Package pipeline is the shared classify→notify→record core used by both
// ingestion strategies.
package pipeline

import (
	"github.com/kenyapolls/poll-detector-bot/internal/classifier"
	"github.com/kenyapolls/poll-detector-bot/internal/metrics"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/notifications"
	"github.com/sirupsen/logrus"
)

// Recorder persists a detected poll.
type Recorder interface {
	Append(record *models.PollRecord)
}

// Processor runs one raw event through classification and, when relevant,
// alerting and recording.
type Processor struct {
	classifier *classifier.Classifier
	notifier   notifications.Notifier
	recorder   Recorder
	strategy   string // "stream" or "batch", for metrics
}

// New builds a processor for one ingestion strategy.
func New(c *classifier.Classifier, n notifications.Notifier, r Recorder, strategy string) *Processor {
	return &Processor{
		classifier: c,
		notifier:   n,
		recorder:   r,
		strategy:   strategy,
	}
}

// Process classifies the envelope and triggers the notifier and recorder on
// a relevant poll. It returns the record when one was produced. An error
// means the event carried malformed data (bad timestamps); the caller logs
// it and moves on to the next event.
func (p *Processor) Process(env *models.StreamEnvelope) (*models.PollRecord, error) {
	metrics.EventsReceived.WithLabelValues(p.strategy).Inc()

	record, err := p.classifier.Classify(env)
	if err != nil {
		metrics.ClassifierErrors.Inc()
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	metrics.PollsDetected.WithLabelValues(p.strategy).Inc()
	logrus.Infof("Processing relevant poll from @%s (tweet %s)", record.Username, record.TweetID)

	p.notifier.Send(record)
	p.recorder.Append(record)

	return record, nil
}
