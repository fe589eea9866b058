// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mattermost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize bounds one inbound frame. Posts are capped at 16383
	// characters server-side; user and channel payloads are smaller.
	maxFrameSize = 1 << 20

	// readTimeout is how long the stream tolerates silence. The server
	// pings roughly once a minute and every ping extends the deadline.
	readTimeout = 3 * time.Minute

	writeTimeout     = 10 * time.Second
	handshakeTimeout = 30 * time.Second
)

// ErrStreamClosed is returned by Stream.Next once the connection is
// gone. It wraps the underlying read error.
var ErrStreamClosed = errors.New("mattermost: stream closed")

// Frame is one raw websocket message.
type Frame struct {
	Type int
	Data []byte
}

// Stream is an open websocket event stream. A reader goroutine pulls
// frames off the socket so that Next can honor context cancellation.
// Next must be called from a single goroutine; SendTyping and Close
// may be called from any.
type Stream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	frames     chan Frame
	readErr    error
	readerDone chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// Connect opens the websocket event stream. The first frame the server
// sends on a healthy connection is a hello event.
func (c *Client) Connect(ctx context.Context) (*Stream, error) {
	streamURL := websocketURL(c.baseURL) + "/api/v4/websocket"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token.String())
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, response, err := dialer.DialContext(ctx, streamURL, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("mattermost: websocket handshake with %s: status %d: %w", streamURL, response.StatusCode, err)
		}
		return nil, fmt.Errorf("mattermost: dialing %s: %w", streamURL, err)
	}

	stream := &Stream{
		conn:       conn,
		logger:     c.logger,
		frames:     make(chan Frame),
		readerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go stream.readLoop()
	c.logger.Info("websocket connected", "url", streamURL)
	return stream, nil
}

func (s *Stream) readLoop() {
	defer close(s.readerDone)
	defer close(s.frames)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		select {
		case s.frames <- Frame{Type: messageType, Data: data}:
		case <-s.closed:
			s.readErr = errors.New("closed by client")
			return
		}
	}
}

// Next returns the next frame. It returns ctx.Err() if ctx is done
// first, and an error wrapping ErrStreamClosed once the connection has
// failed or been closed.
func (s *Stream) Next(ctx context.Context) (Frame, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return Frame{}, fmt.Errorf("%w: %w", ErrStreamClosed, s.readErr)
		}
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

type typingAction struct {
	Action string     `json:"action"`
	Seq    int64      `json:"seq"`
	Data   typingData `json:"data"`
}

type typingData struct {
	ChannelID string `json:"channel_id"`
	ParentID  string `json:"parent_id,omitempty"`
}

// SendTyping shows the typing indicator in channelID, scoped to the
// thread parentID when it is non-empty. seq numbers the action and
// must come from SequenceTracker.NextOutbound.
func (s *Stream) SendTyping(channelID, parentID string, seq int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := s.conn.WriteJSON(typingAction{
		Action: "user_typing",
		Seq:    seq,
		Data:   typingData{ChannelID: channelID, ParentID: parentID},
	})
	if err != nil {
		return fmt.Errorf("mattermost: sending typing action: %w", err)
	}
	return nil
}

// Close sends a close frame, closes the connection and waits for the
// reader goroutine to exit. Close is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.readerDone
	})
	return err
}

func websocketURL(baseURL string) string {
	if rest, ok := strings.CutPrefix(baseURL, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(baseURL, "http://")
}
