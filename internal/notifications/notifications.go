package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/room-controller/internal/env"
)

// ntfy priority levels; 3 is the ntfy default, 4 bumps the notification
// past quiet delivery on most clients.
const (
	PriorityDefault = 3
	PriorityHigh    = 4
)

var client *http.Client
var server string
var topic string
var initialized bool

// Init initializes the notification client
func Init() {
	if env.Cfg.NtfyTopic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return
	}

	client = &http.Client{
		Timeout: 10 * time.Second,
	}
	server = env.Cfg.NtfyServer
	topic = env.Cfg.NtfyTopic
	initialized = true

	log.Info().
		Str("server", server).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
}

// Send sends a notification at default priority.
func Send(title, message string) error {
	return SendWithPriority(title, message, PriorityDefault)
}

// SendWithPriority sends a notification with an explicit ntfy priority.
func SendWithPriority(title, message string, priority int) error {
	if !initialized {
		return fmt.Errorf("notifications not initialized")
	}

	url := fmt.Sprintf("%s/%s", server, topic)

	payload := map[string]interface{}{
		"topic":    topic,
		"title":    title,
		"message":  message,
		"priority": priority,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}
