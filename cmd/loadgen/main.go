// Command loadgen posts synthetic traffic against a running webpulse server:
// a small population of browsing sessions emitting pageviews, actions, and
// performance timings. Useful for watching the realtime dashboard move.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	pages   = []string{"/home", "/about", "/pricing", "/blog", "/docs", "/contact"}
	actions = []struct{ category, action, label string }{
		{"nav", "click", "header"},
		{"cta", "click", "signup"},
		{"search", "submit", ""},
		{"video", "play", "intro"},
	}
	perfMetrics = []string{"ttfb", "fcp", "lcp"}
)

type session struct {
	id      string
	referer string
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	target := flag.String("target", "http://localhost:4000", "webpulse base URL")
	rate := flag.Duration("rate", 500*time.Millisecond, "delay between events")
	sessionCount := flag.Int("sessions", 8, "concurrent browsing sessions")
	flag.Parse()

	sessions := make([]session, *sessionCount)
	for i := range sessions {
		sessions[i] = session{id: uuid.NewString()}
	}

	log.Info().Str("target", *target).Int("sessions", *sessionCount).Msg("load generator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	sent := 0
	for {
		select {
		case <-quit:
			log.Info().Int("sent", sent).Msg("load generator stopped")
			return
		case <-ticker.C:
			s := sessions[rand.Intn(len(sessions))]
			if err := sendOne(client, *target, s); err != nil {
				log.Warn().Err(err).Msg("event post failed")
				continue
			}
			sent++
			if sent%50 == 0 {
				log.Info().Int("sent", sent).Msg("progress")
			}
		}
	}
}

// sendOne emits one event for the session: mostly pageviews, with actions
// and performance timings mixed in.
func sendOne(client *http.Client, target string, s session) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	switch rand.Intn(10) {
	case 0, 1, 2:
		a := actions[rand.Intn(len(actions))]
		return post(client, target+"/api/events/action", map[string]any{
			"eventId":   uuid.NewString(),
			"action":    a.action,
			"category":  a.category,
			"label":     a.label,
			"timestamp": now,
			"sessionId": s.id,
		})
	case 3:
		metric := perfMetrics[rand.Intn(len(perfMetrics))]
		return post(client, target+"/api/events/performance", map[string]any{
			"eventId":   uuid.NewString(),
			"metric":    metric,
			"value":     50 + rand.Float64()*450,
			"timestamp": now,
			"sessionId": s.id,
		})
	default:
		return post(client, target+"/api/events/pageview", map[string]any{
			"eventId":    uuid.NewString(),
			"url":        pages[rand.Intn(len(pages))],
			"timestamp":  now,
			"sessionId":  s.id,
			"referrer":   s.referer,
			"deviceType": "desktop",
		})
	}
}

func post(client *http.Client, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
