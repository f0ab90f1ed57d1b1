// Command agent is a simulated field agent for demos and load testing: it
// connects to the dispatch server, streams jittered GPS fixes, and walks
// any assignment it receives through in_progress to completed.
package main

import (
	"log"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

type event map[string]any

func main() {
	serverURL := getEnv("SERVER_URL", "ws://localhost:8080")
	token := getEnv("AGENT_TOKEN", "")
	if token == "" {
		log.Fatal("AGENT_TOKEN is required")
	}
	lat := getEnvFloat("START_LAT", 12.9716)
	lng := getEnvFloat("START_LNG", 77.5946)
	interval := time.Duration(getEnvFloat("REPORT_SECONDS", 10)) * time.Second

	u, err := url.Parse(serverURL)
	if err != nil {
		log.Fatalf("bad SERVER_URL: %v", err)
	}
	u.Path = "/ws/agent"
	u.RawQuery = "token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	outbound := make(chan event, 16)

	go func() {
		for {
			var ev event
			if err := conn.ReadJSON(&ev); err != nil {
				log.Printf("read failed: %v", err)
				close(outbound)
				return
			}
			handleEvent(ev, outbound)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	for {
		select {
		case <-sigChan:
			log.Println("shutting down")
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev, ok := <-outbound:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("write failed: %v", err)
				return
			}
		case <-ticker.C:
			// Drift the position a little so managers see movement.
			lat += (rand.Float64() - 0.5) * 0.001
			lng += (rand.Float64() - 0.5) * 0.001
			msg := event{
				"type":      "location_update",
				"latitude":  lat,
				"longitude": lng,
				"accuracy":  5.0 + rand.Float64()*10,
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("write failed: %v", err)
				return
			}
		}
	}
}

func handleEvent(ev event, outbound chan<- event) {
	kind, _ := ev["type"].(string)
	switch kind {
	case "connection_established":
		log.Printf("connected as %v", ev["name"])
	case "new_assignment":
		id, _ := ev["assignment_id"].(string)
		log.Printf("assignment received: %v (%v)", ev["client_name"], id)
		go workAssignment(id, outbound)
	case "assignment_cancelled":
		log.Printf("assignment cancelled: %v", ev["message"])
	case "error":
		log.Printf("server error: %v", ev["message"])
	case "pong", "location_updated", "assignment_status_updated":
		// acknowledgements, nothing to do
	default:
		log.Printf("event: %v", ev)
	}
}

// workAssignment simulates travel and the visit itself.
func workAssignment(id string, outbound chan<- event) {
	time.Sleep(5 * time.Second)
	outbound <- event{
		"type":          "assignment_status_update",
		"assignment_id": id,
		"status":        "in_progress",
	}

	time.Sleep(15 * time.Second)
	outbound <- event{
		"type":          "assignment_status_update",
		"assignment_id": id,
		"status":        "completed",
		"notes":         "Visit completed by simulator",
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
