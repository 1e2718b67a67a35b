// Package recorder persists detected polls to an append-only CSV file.
package recorder

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/sirupsen/logrus"
)

var header = []string{
	"Tweet ID", "Author ID", "Username", "Tweet Text",
	"Created At", "Poll End", "Duration (min)", "Status", "Options",
}

// CSVRecorder appends poll records to a single CSV file, writing the header
// only when the file does not exist yet. The check-then-append window is
// accepted because there is a single writer per deployment.
type CSVRecorder struct {
	path string
}

// New creates a recorder for the given output path.
func New(path string) *CSVRecorder {
	return &CSVRecorder{path: path}
}

// Append writes one row for the record. I/O failures are logged and
// swallowed: losing a CSV row must not abort the pipeline.
func (r *CSVRecorder) Append(record *models.PollRecord) {
	_, statErr := os.Stat(r.path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logrus.Errorf("Failed to open %s: %v", r.path, err)
		return
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(header); err != nil {
			logrus.Errorf("Failed to write CSV header: %v", err)
			return
		}
	}

	row := []string{
		record.TweetID,
		record.AuthorID,
		record.Username,
		record.Text,
		record.CreatedAtRaw,
		record.PollEndRaw,
		strconv.Itoa(record.DurationMinutes),
		record.VotingStatus,
		strings.Join(record.Options, "; "),
	}
	if err := w.Write(row); err != nil {
		logrus.Errorf("Failed to write CSV row for tweet %s: %v", record.TweetID, err)
		return
	}

	w.Flush()
	if err := w.Error(); err != nil {
		logrus.Errorf("Failed to flush CSV for tweet %s: %v", record.TweetID, err)
		return
	}

	logrus.Infof("Poll tweet %s saved to CSV", record.TweetID)
}
