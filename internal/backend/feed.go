package backend

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dadinugroho/robshop-core/internal/apperrors"
	"github.com/dadinugroho/robshop-core/internal/logging"
)

const (
	feedReadDeadline  = 60 * time.Second
	feedWriteDeadline = 10 * time.Second
	feedPingInterval  = 30 * time.Second
)

// WSFeed is the websocket change-feed client. One Run call serves one
// connection; when the connection drops, Run returns and the caller
// decides whether to reconnect.
type WSFeed struct {
	url       string
	apiKey    string
	events    chan ChangeEvent
	connected atomic.Bool
}

// NewWSFeed creates a feed client for the given websocket URL.
func NewWSFeed(url, apiKey string) *WSFeed {
	return &WSFeed{
		url:    url,
		apiKey: apiKey,
		events: make(chan ChangeEvent, 256),
	}
}

// Events implements Feed.
func (f *WSFeed) Events() <-chan ChangeEvent {
	return f.events
}

// Connected implements Feed.
func (f *WSFeed) Connected() bool {
	return f.connected.Load()
}

// subscribeMsg is the initial frame selecting the tables to follow.
type subscribeMsg struct {
	Action string   `json:"action"`
	APIKey string   `json:"apikey,omitempty"`
	Tables []string `json:"tables"`
}

// Run implements Feed. It dials, subscribes to the given tables, and
// pumps events until ctx is cancelled or the connection fails. The
// events channel is closed on return.
func (f *WSFeed) Run(ctx context.Context, tables []string) error {
	defer close(f.events)

	dialer := websocket.Dialer{HandshakeTimeout: feedWriteDeadline}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrFeedClosed, "dial change feed", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(feedWriteDeadline))
	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", APIKey: f.apiKey, Tables: tables}); err != nil {
		return apperrors.Wrap(apperrors.ErrFeedClosed, "subscribe", err)
	}

	f.connected.Store(true)
	defer f.connected.Store(false)

	logging.Info("Change feed connected", map[string]interface{}{
		"tables": len(tables),
	})

	// Close the connection when ctx ends so the read loop unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// Keepalive pings.
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(feedWriteDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("Change feed read error", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return apperrors.Wrap(apperrors.ErrFeedClosed, "read change feed", err)
		}
		conn.SetReadDeadline(time.Now().Add(feedReadDeadline))

		var ev ChangeEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			logging.Warn("Dropping malformed feed frame", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if ev.Table == "" || ev.Type == "" {
			// Control frame (subscribe ack, pong envelope); ignore.
			continue
		}

		select {
		case f.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
