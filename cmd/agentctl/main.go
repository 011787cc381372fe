// Package main provides a simple CLI client for driving an agent session
// over the server's WebSocket endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

// session mirrors the server's session response.
type session struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// streamEvent mirrors the server's stream frame.
type streamEvent struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// createSession creates a new session over the HTTP API.
func createSession(baseURL string, storeScreenshots bool) (*session, error) {
	body, _ := json.Marshal(map[string]any{"store_screenshots": storeScreenshots})
	resp, err := http.Post(baseURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create session: unexpected status %d", resp.StatusCode)
	}

	var s session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func main() {
	host := flag.String("host", "localhost:8000", "agentd server host:port")
	sessionID := flag.String("session", "", "existing session ID (created when empty)")
	message := flag.String("message", "", "task for the agent (required)")
	apiKey := flag.String("api-key", "", "Anthropic API key override")
	screenshots := flag.Bool("screenshots", false, "store screenshots for a newly created session")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *message == "" {
		log.Fatal("-message is required")
	}

	id := *sessionID
	if id == "" {
		s, err := createSession("http://"+*host, *screenshots)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		id = s.SessionID
		fmt.Printf("Created session %s\n", id)
	}

	addr := fmt.Sprintf("ws://%s/sessions/%s/ws", *host, id)
	fmt.Printf("Connecting to %s...\n", addr)

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	start := map[string]string{"message": *message}
	if *apiKey != "" {
		start["api_key"] = *apiKey
	}
	if err := conn.WriteJSON(start); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}

	// Closing the connection on Ctrl+C cancels the run server-side.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		conn.Close()
	}()

	for {
		var event streamEvent
		if err := conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			return
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, event.Content, "", "  "); err != nil {
			pretty.Write(event.Content)
		}
		fmt.Printf("\n[%s] %s\n", event.Type, pretty.String())

		if event.Type == "completed" || event.Type == "error" {
			return
		}
	}
}
