package notifications

import "github.com/kenyapolls/poll-detector-bot/internal/models"

// Notifier delivers an alert for a detected poll. Implementations absorb
// their own failures: a missed notification is acceptable collateral, a
// crashed pipeline is not.
type Notifier interface {
	Send(record *models.PollRecord)
}

// Fanout delivers each alert to every configured channel in order.
type Fanout []Notifier

var _ Notifier = (Fanout)(nil)

// Send forwards the record to all channels.
func (f Fanout) Send(record *models.PollRecord) {
	for _, n := range f {
		n.Send(record)
	}
}
