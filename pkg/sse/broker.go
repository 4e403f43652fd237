package sse

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

/*
Broker maintains per-topic subscriber lists and broadcasts JSON-encoded
events to them.  Each event is sent as a single-line SSE message of the
form:

data: {json}\n\n

Topics are task ids: a subscriber only sees snapshots of the task it
attached to.
*/
type Broker struct {
	mu       sync.RWMutex
	topics   map[string]map[chan []byte]struct{}
	closed   bool
	testMode bool
}

func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]map[chan []byte]struct{}),
	}
}

// NewTestBroker creates a broker with a shorter heartbeat interval for testing.
func NewTestBroker() *Broker {
	return &Broker{
		topics:   make(map[string]map[chan []byte]struct{}),
		testMode: true,
	}
}

/*
Subscribe upgrades the HTTP connection to an SSE stream for one topic and
blocks until the client disconnects.  Use from an HTTP handler.  Initial
payloads, if any, are written as the first frames so a late subscriber
immediately sees the current state.
*/
func (broker *Broker) Subscribe(w http.ResponseWriter, r *http.Request, topic string, initial ...[]byte) {
	flusher, ok := w.(http.Flusher)

	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan []byte, 8)
	broker.mu.Lock()

	if broker.closed {
		broker.mu.Unlock()
		http.Error(w, "broker closed", http.StatusGone)
		return
	}

	if _, ok := broker.topics[topic]; !ok {
		broker.topics[topic] = make(map[chan []byte]struct{})
	}

	broker.topics[topic][ch] = struct{}{}
	broker.mu.Unlock()

	for _, msg := range initial {
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(msg)
		_, _ = w.Write([]byte("\n\n"))
	}
	flusher.Flush()

	// heartbeat ticker to keep the connection alive through proxies.
	tickerInterval := 25 * time.Second

	if broker.testMode {
		tickerInterval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			broker.remove(topic, ch)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			// comment heartbeat
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()
		}
	}
}

/*
Publish marshals v to JSON and sends it to every subscriber of the topic.
*/
func (broker *Broker) Publish(topic string, v any) error {
	msg, err := json.Marshal(v)

	if err != nil {
		return err
	}

	broker.mu.RLock()
	defer broker.mu.RUnlock()

	if broker.closed {
		return nil
	}

	for ch := range broker.topics[topic] {
		select {
		case ch <- msg:
		default:
			// slow client – drop message to avoid blocking.
		}
	}

	return nil
}

/*
Close disconnects all clients and prevents further subscriptions.
*/
func (broker *Broker) Close() {
	broker.mu.Lock()
	defer broker.mu.Unlock()

	if broker.closed {
		return
	}

	broker.closed = true

	for _, subs := range broker.topics {
		for ch := range subs {
			close(ch)
		}
	}

	broker.topics = map[string]map[chan []byte]struct{}{}
}

func (broker *Broker) remove(topic string, ch chan []byte) {
	broker.mu.Lock()
	defer broker.mu.Unlock()

	if subs, ok := broker.topics[topic]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(broker.topics, topic)
		}
	}
}
