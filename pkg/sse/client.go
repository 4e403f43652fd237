package sse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openpriorauth/a4a-go/pkg/errors"
)

// Event represents a Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

/*
Client consumes one SSE stream with reconnection support.  Dropped
connections are retried with bounded exponential backoff; when the retry
budget is exhausted Subscribe returns the last connection error so the
caller can fall back to another transport.
*/
type Client struct {
	URL     string
	Headers map[string]string
	Retry   *errors.RetryConfig

	// OnReconnect is invoked before each reconnection attempt.  Optional.
	OnReconnect func(attempt int)

	mu       sync.RWMutex
	conn     *http.Response
	reader   *bufio.Reader
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewClient(url string) *Client {
	return &Client{
		URL:      url,
		Headers:  make(map[string]string),
		Retry:    errors.DefaultRetryConfig(),
		stopChan: make(chan struct{}),
	}
}

/*
Subscribe connects to the stream and invokes handler for every event until
the context is canceled, Close is called, or reconnection gives up.
*/
func (c *Client) Subscribe(ctx context.Context, lastEventID string, handler func(*Event)) error {
	var retryCount int

	for {
		select {
		case <-ctx.Done():
			c.cleanup()
			return ctx.Err()
		case <-c.stopChan:
			c.cleanup()
			return nil
		default:
		}

		if err := c.connect(ctx, lastEventID); err != nil {
			if retryCount >= c.Retry.MaxAttempts {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			if c.OnReconnect != nil {
				c.OnReconnect(retryCount)
			}
			select {
			case <-time.After(c.Retry.Delay(retryCount)):
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stopChan:
				return nil
			}
			retryCount++
			continue
		}

		// Reset the budget after a successful connection.
		retryCount = 0

		err := c.processEvents(ctx, handler)
		c.cleanup()

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Server closed the stream – reconnect.
			continue
		}

		if err != nil {
			return err
		}

		return nil
	}
}

func (c *Client) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Body.Close()
		c.conn = nil
		c.reader = nil
	}
}

func (c *Client) connect(ctx context.Context, lastEventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	c.mu.Lock()
	c.conn = resp
	c.reader = bufio.NewReader(resp.Body)
	c.mu.Unlock()

	return nil
}

func (c *Client) processEvents(ctx context.Context, handler func(*Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return nil
		default:
			event, err := c.readEvent()
			if err != nil {
				return err
			}

			if event != nil {
				handler(event)
			}
		}
	}
}

// readEvent reads a single SSE event off the wire.
func (c *Client) readEvent() (*Event, error) {
	c.mu.RLock()
	reader := c.reader
	c.mu.RUnlock()

	if reader == nil {
		return nil, io.EOF
	}

	event := &Event{}
	var eventData strings.Builder
	inEvent := false

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\n\r")

		// Empty line marks the end of an event.
		if line == "" {
			if inEvent && eventData.Len() > 0 {
				event.Data = []byte(eventData.String())
				return event, nil
			}
			inEvent = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			// Comment/heartbeat line, ignore.
			continue
		}

		inEvent = true

		switch {
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			dataLine := strings.TrimPrefix(line, "data:")
			if eventData.Len() > 0 {
				eventData.WriteString("\n")
			}
			eventData.WriteString(strings.TrimPrefix(dataLine, " "))
		}
	}
}

// Close terminates the subscription.  Safe to call more than once.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Body.Close()
	}
	return nil
}
