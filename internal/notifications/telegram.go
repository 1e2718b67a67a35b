package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kenyapolls/poll-detector-bot/internal/metrics"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/retry"
	"github.com/sirupsen/logrus"
)

// TelegramNotifier posts Markdown alerts to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
	policy retry.Policy
}

var _ Notifier = (*TelegramNotifier)(nil)

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		client: resty.New().
			SetBaseURL("https://api.telegram.org").
			SetTimeout(10 * time.Second).
			SetHeader("User-Agent", "poll-detector-bot/1.0"),
		token:  token,
		chatID: chatID,
		policy: retry.Policy{
			Name:     "telegram alert",
			Attempts: 3,
			Delay:    retry.Fixed(2 * time.Second),
		},
	}
}

// Send formats and delivers the alert. Delivery is retried up to three
// times; the final failure is logged, never returned, so a flaky chat
// endpoint cannot take the pipeline down with it.
func (t *TelegramNotifier) Send(record *models.PollRecord) {
	message := FormatAlert(record)

	err := t.policy.Do(context.Background(), func() error {
		resp, err := t.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(telegramMessage{
				ChatID:    t.chatID,
				Text:      message,
				ParseMode: "Markdown",
			}).
			Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
		if err != nil {
			return fmt.Errorf("telegram request failed: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
		}
		return nil
	})

	if err != nil {
		metrics.AlertsFailed.Inc()
		logrus.Errorf("Failed to send Telegram alert for tweet %s: %v", record.TweetID, err)
		return
	}

	metrics.AlertsSent.Inc()
	logrus.Infof("Alert for tweet %s sent to Telegram", record.TweetID)
}

// FormatAlert renders the Markdown alert body for a detected poll.
func FormatAlert(record *models.PollRecord) string {
	var b strings.Builder

	b.WriteString("📊 *Kenya President Poll Detected!*\n")
	b.WriteString("✅ *Confirmed: Poll contains candidate names*\n")
	fmt.Fprintf(&b, "👤 Username: `@%s`\n", record.Username)
	fmt.Fprintf(&b, "🆔 Author ID: `%s`\n", record.AuthorID)
	fmt.Fprintf(&b, "🕒 Created: `%s`\n", record.CreatedAtEAT)
	fmt.Fprintf(&b, "🔗 [View Tweet](%s)\n", record.TweetURL())
	fmt.Fprintf(&b, "🗳️ *Poll Text:* %s\n", record.Text)
	fmt.Fprintf(&b, "📅 Ends: `%s`\n", record.PollEndEAT)
	fmt.Fprintf(&b, "⏱️ Duration: %d min\n", record.DurationMinutes)
	fmt.Fprintf(&b, "📌 Status: `%s`\n", record.VotingStatus)
	b.WriteString("*Poll Options:*")
	for _, opt := range record.Options {
		fmt.Fprintf(&b, "\n- `%s`", opt)
	}

	return b.String()
}

// baseURL overrides the API endpoint, used by tests.
func (t *TelegramNotifier) baseURL(url string) *TelegramNotifier {
	t.client.SetBaseURL(url)
	return t
}
