// mockupstream is a standalone fake upstream realtime endpoint for local
// development. It speaks just enough of the upstream protocol to exercise
// the relay end to end: it greets each connection with session.created and
// conversation.created, acknowledges buffer commits, and answers
// response.create with a short canned response lifecycle.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	addr := getEnv("MOCK_UPSTREAM_ADDRESS", ":9292")

	http.HandleFunc("/", handleConnection)
	log.Info().Str("addr", addr).Msg("mock upstream listening")
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("mock upstream failed")
	}
}

func handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := "mock_sess_" + uuid.New().String()
	conversationID := "mock_conv_" + uuid.New().String()
	log.Info().
		Str("session_id", sessionID).
		Str("model", r.URL.Query().Get("model")).
		Msg("connection accepted")

	greetings := []map[string]any{
		{
			"type":    "session.created",
			"session": map[string]any{"id": sessionID},
		},
		{
			"type":         "conversation.created",
			"conversation": map[string]any{"id": conversationID},
		},
	}
	for _, ev := range greetings {
		if err := conn.WriteJSON(ev); err != nil {
			log.Warn().Err(err).Msg("greeting write failed")
			return
		}
	}

	for {
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			log.Info().Str("session_id", sessionID).Msg("connection closed")
			return
		}
		evType, _ := ev["type"].(string)
		log.Debug().Str("session_id", sessionID).Str("type", evType).Msg("event received")

		var replies []map[string]any
		switch evType {
		case "input_audio_buffer.commit":
			replies = append(replies, map[string]any{
				"type":    "input_audio_buffer.committed",
				"item_id": "item_" + uuid.New().String(),
			})
		case "input_audio_buffer.clear":
			replies = append(replies, map[string]any{
				"type": "input_audio_buffer.cleared",
			})
		case "session.update":
			replies = append(replies, map[string]any{
				"type":    "session.updated",
				"session": map[string]any{"id": sessionID},
			})
		case "response.create":
			replies = cannedResponse()
		case "response.cancel":
			replies = append(replies, map[string]any{
				"type": "response.cancelled",
			})
		}

		for _, reply := range replies {
			if err := conn.WriteJSON(reply); err != nil {
				log.Warn().Err(err).Msg("reply write failed")
				return
			}
		}
	}
}

// cannedResponse is the fixed frame sequence sent for every
// response.create, mirroring the upstream response lifecycle.
func cannedResponse() []map[string]any {
	responseID := "resp_" + uuid.New().String()
	return []map[string]any{
		{
			"type":     "response.created",
			"response": map[string]any{"id": responseID},
		},
		{
			"type":        "response.text.delta",
			"response_id": responseID,
			"delta":       "hello from the mock upstream",
		},
		{
			"type":        "response.done",
			"response_id": responseID,
			"response":    map[string]any{"id": responseID, "status": "completed"},
		},
	}
}
