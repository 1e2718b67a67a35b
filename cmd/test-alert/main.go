// Command test-alert renders a sample poll alert and, with --send, delivers
// it to the configured Telegram chat. Useful for verifying bot token and
// chat id before pointing the detector at the live stream.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kenyapolls/poll-detector-bot/internal/config"
	"github.com/kenyapolls/poll-detector-bot/internal/models"
	"github.com/kenyapolls/poll-detector-bot/internal/notifications"
	"github.com/kenyapolls/poll-detector-bot/internal/timefmt"
)

func main() {
	fmt.Println("🔍 Kenya Poll Detector - Alert Test")
	fmt.Println("===================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	record := sampleRecord()
	message := notifications.FormatAlert(record)

	fmt.Println("\n📨 Rendered alert:")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println(message)
	fmt.Println(strings.Repeat("-", 40))

	if len(os.Args) > 1 && os.Args[1] == "--send" {
		fmt.Printf("\n📤 Sending to chat %s...\n", cfg.TelegramChatID)
		notifier := notifications.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		notifier.Send(record)
		fmt.Println("Done (check the bot logs above for the delivery result)")
	} else {
		fmt.Println("\nRun with --send to deliver this alert to the configured chat")
	}
}

func sampleRecord() *models.PollRecord {
	now := time.Now().UTC().Truncate(time.Second)
	end := now.Add(24 * time.Hour)

	createdRaw := now.Format("2006-01-02T15:04:05.000Z")
	endRaw := end.Format("2006-01-02T15:04:05.000Z")

	created, createdEAT, _ := timefmt.Normalize(createdRaw)
	pollEnd, pollEndEAT, _ := timefmt.Normalize(endRaw)

	return &models.PollRecord{
		TweetID:         "1821234567890123456",
		AuthorID:        "4711",
		Username:        "pollwatcher",
		Text:            "Who takes State House in 2027?",
		CreatedAtRaw:    createdRaw,
		CreatedAt:       created,
		CreatedAtEAT:    createdEAT,
		PollEndRaw:      endRaw,
		PollEnd:         pollEnd,
		PollEndEAT:      pollEndEAT,
		DurationMinutes: 1440,
		VotingStatus:    "open",
		Options:         []string{"Ruto", "Kalonzo", "Omtatah", "Undecided"},
	}
}
