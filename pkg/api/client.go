// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// TokenVerifier checks Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Client is a middleman between the ws connection and the Hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Connection id, for logs.
	id string

	// Authenticated user. Owned by the hub goroutine.
	uid string

	verifier TokenVerifier

	// How long the Client may stay connected without authenticating.
	authTimeout time.Duration
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, verifier TokenVerifier, authTimeout time.Duration) *Client {
	return &Client{
		Hub:         hub,
		conn:        conn,
		send:        send,
		id:          uuid.NewString(),
		verifier:    verifier,
		authTimeout: authTimeout,
	}
}

// ReadPump pumps messages from the ws connection to the Hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer c.Hub.leave(c)

	c.conn.SetReadLimit(maxMessageSize)
	// Until the Client authenticates the read deadline doubles as the auth timer.
	if err := c.conn.SetReadDeadline(time.Now().Add(c.authTimeout)); err != nil {
		zap.S().Errorw("unable to set read deadline", "error", err)
		return
	}

	authenticated := false
	c.conn.SetPongHandler(func(string) error {
		if !authenticated {
			return nil
		}
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !authenticated {
				c.reply(OutgoingEvent{RequestType: Error, Error: "did not authenticate within " + c.authTimeout.String()})
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				zap.S().Infow("realtime connection closed", "conn", c.id, "error", err)
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var incomingEvent IncomingEvent
		if err := json.Unmarshal(message, &incomingEvent); err != nil {
			zap.S().Warnw("could not process message", "conn", c.id, "error", err)
			continue
		}

		if authenticated {
			if incomingEvent.RequestType == Authenticate {
				c.reply(errorReply(incomingEvent, "already authenticated"))
				continue
			}
			if !c.Hub.submit(request{client: c, event: incomingEvent}) {
				return
			}
			continue
		}

		if incomingEvent.RequestType != Authenticate {
			c.reply(errorReply(incomingEvent, "not authenticated"))
			continue
		}
		token, err := c.verifier.VerifyIDToken(context.Background(), incomingEvent.Token)
		if err != nil {
			c.reply(OutgoingEvent{Ref: incomingEvent.Ref, RequestType: Error, Error: "token not valid"})
			return
		}
		authenticated = true
		if !c.Hub.submit(request{client: c, event: incomingEvent, uid: token.UID}) {
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			zap.S().Errorw("unable to set read deadline", "error", err)
			return
		}
	}
}

func (c *Client) reply(event OutgoingEvent) {
	c.Hub.submit(request{client: c, reply: &event})
}

// WritePump pumps messages from the Hub to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued events to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
