package notifications

import (
	"fmt"
	"strings"

	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// EmailNotifier sends a plain-text copy of each alert over SMTP. It is an
// optional secondary channel next to Telegram.
type EmailNotifier struct {
	to       string
	host     string
	port     int
	username string
	password string

	// send is swapped out by tests.
	send func(m *gomail.Message) error
}

var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates an SMTP-backed notifier.
func NewEmailNotifier(to, host string, port int, username, password string) *EmailNotifier {
	n := &EmailNotifier{
		to:       to,
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(n.host, n.port, n.username, n.password)
		return d.DialAndSend(m)
	}
	return n
}

// Send delivers the alert by email. Failures are logged and swallowed.
func (n *EmailNotifier) Send(record *models.PollRecord) {
	m := gomail.NewMessage()
	m.SetHeader("From", n.username)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", fmt.Sprintf("Poll detected: @%s (%s)", record.Username, record.TweetID))
	m.SetBody("text/plain", buildEmailBody(record))

	if err := n.send(m); err != nil {
		logrus.Errorf("Failed to send email alert for tweet %s: %v", record.TweetID, err)
		return
	}

	logrus.Infof("Alert for tweet %s sent via email", record.TweetID)
}

func buildEmailBody(record *models.PollRecord) string {
	var text strings.Builder

	text.WriteString("Kenya President Poll Detected\n")
	text.WriteString("=============================\n\n")
	text.WriteString(fmt.Sprintf("Username:  @%s\n", record.Username))
	text.WriteString(fmt.Sprintf("Author ID: %s\n", record.AuthorID))
	text.WriteString(fmt.Sprintf("Created:   %s\n", record.CreatedAtEAT))
	text.WriteString(fmt.Sprintf("Ends:      %s\n", record.PollEndEAT))
	text.WriteString(fmt.Sprintf("Duration:  %d min\n", record.DurationMinutes))
	text.WriteString(fmt.Sprintf("Status:    %s\n", record.VotingStatus))
	text.WriteString(fmt.Sprintf("URL:       %s\n\n", record.TweetURL()))
	text.WriteString(fmt.Sprintf("Text: %s\n\n", record.Text))

	text.WriteString("Options:\n")
	for _, opt := range record.Options {
		text.WriteString(fmt.Sprintf("  - %s\n", opt))
	}

	return text.String()
}
