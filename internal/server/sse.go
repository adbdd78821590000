package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/opreport/internal/events"
)

const (
	// replaySize is how many recent events the hub keeps for replay. A
	// report run emits about ten events, so this spans many runs.
	replaySize = 512

	clientBuffer      = 64
	keepaliveInterval = 15 * time.Second
)

// sseEvent is one published event as sent to stream clients.
type sseEvent struct {
	ID    uint64
	Topic string
	RunID string
	Data  []byte
}

// terminal reports whether evt ends its run.
func (e *sseEvent) terminal() bool {
	return e.Topic == events.TopicReportGenerated || e.Topic == events.TopicReportFailed
}

// Hub fans published events out to connected stream clients and keeps the
// most recent ones for replay.
type Hub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	lastID  uint64
	ring    []sseEvent // ring[start] is the oldest event once full
	start   int
}

type sseClient struct {
	topics []string // patterns, empty = all
	runID  string   // empty = every run
	ch     chan *sseEvent
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*sseClient]struct{}),
		ring:    make([]sseEvent, 0, replaySize),
	}
}

// broadcast records an event and delivers it to matching clients. Clients
// whose buffer is full miss the event.
func (h *Hub) broadcast(topic, runID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastID++
	evt := sseEvent{ID: h.lastID, Topic: topic, RunID: runID, Data: payload}
	if len(h.ring) < replaySize {
		h.ring = append(h.ring, evt)
	} else {
		h.ring[h.start] = evt
		h.start = (h.start + 1) % replaySize
	}
	for c := range h.clients {
		if !c.matches(&evt) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
		}
	}
}

func (h *Hub) subscribe(topics []string, runID string) *sseClient {
	c := &sseClient{topics: topics, runID: runID, ch: make(chan *sseEvent, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns the retained events with ID > lastID, oldest first.
func (h *Hub) eventsSince(lastID uint64) []*sseEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*sseEvent
	for i := range h.ring {
		evt := h.ring[(h.start+i)%len(h.ring)]
		if evt.ID > lastID {
			out = append(out, &evt)
		}
	}
	return out
}

func (c *sseClient) matches(evt *sseEvent) bool {
	if c.runID != "" && evt.RunID != c.runID {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, p := range c.topics {
		if matchTopicPattern(p, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a NATS-style
// pattern: "*" matches one segment and a trailing ">" one or more.
func matchTopicPattern(pattern, topic string) bool {
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		switch {
		case p == ">":
			return i < len(top)
		case i >= len(top):
			return false
		case p != "*" && p != top[i]:
			return false
		}
	}
	return len(pat) == len(top)
}

// handleEventStream handles GET /v1/events/stream.
//
// Query parameters: topics (comma separated patterns) and run (a run id).
// A Last-Event-ID header replays newer retained events. A stream filtered
// to one run also replays that run's retained events and closes once the
// run is generated or has failed.
func (s *ReportServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	runID := r.URL.Query().Get("run")

	client := s.hub.subscribe(topics, runID)
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Replay. Live events already queued for the client are skipped by id.
	var replayed uint64
	lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	if err == nil || runID != "" {
		for _, evt := range s.hub.eventsSince(lastID) {
			if !client.matches(evt) {
				continue
			}
			writeSSEEvent(w, evt)
			replayed = evt.ID
			if runID != "" && evt.terminal() {
				flusher.Flush()
				return
			}
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client.ch:
			if evt.ID <= replayed {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
			if runID != "" && evt.terminal() {
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
