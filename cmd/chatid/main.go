// Command chatid polls the Telegram getUpdates endpoint and prints the chat
// id of every incoming message. Send any message to the bot while this runs
// to discover the TELEGRAM_CHAT_ID value for the detector's configuration.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
)

type updatesResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		UpdateID int64 `json:"update_id"`
		Message  struct {
			Chat struct {
				ID    int64  `json:"id"`
				Type  string `json:"type"`
				Title string `json:"title"`
			} `json:"chat"`
			From struct {
				Username string `json:"username"`
			} `json:"from"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"result"`
}

func main() {
	_ = godotenv.Load()

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	client := resty.New().
		SetBaseURL("https://api.telegram.org").
		SetTimeout(35 * time.Second)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Listening for messages; send one to the bot to see its chat id (Ctrl-C to stop)...")

	var offset int64
	for {
		select {
		case <-quit:
			return
		default:
		}

		resp, err := client.R().
			SetQueryParam("timeout", "30").
			SetQueryParam("offset", fmt.Sprintf("%d", offset)).
			Get(fmt.Sprintf("/bot%s/getUpdates", token))
		if err != nil {
			log.Printf("getUpdates failed: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		var updates updatesResponse
		if err := json.Unmarshal(resp.Body(), &updates); err != nil {
			log.Printf("failed to parse updates: %v", err)
			continue
		}

		for _, update := range updates.Result {
			offset = update.UpdateID + 1
			chat := update.Message.Chat
			fmt.Printf("Chat ID: %d (type=%s", chat.ID, chat.Type)
			if chat.Title != "" {
				fmt.Printf(", title=%q", chat.Title)
			}
			if update.Message.From.Username != "" {
				fmt.Printf(", from=@%s", update.Message.From.Username)
			}
			fmt.Println(")")
		}
	}
}
