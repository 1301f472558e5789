package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	logDate string = `2006-01-02T15:04:05.000-07:00`

	dialTimeout = 20 * time.Second
	pollTimeout = 30 * time.Second
)

// transport is one established bidirectional stream to the server. The
// preferred transport is a websocket; when the websocket dial fails, a plain
// HTTP long-poll loop stands in for it.
type transport interface {
	send(e envelope) error
	receive() (envelope, error)
	close() error
	name() string
}

// dialTransport establishes a connection, preferring websocket and falling
// back to long-polling.
func dialTransport(ctx context.Context, cfg *Config) (transport, error) {
	ws, wsErr := dialWebsocket(ctx, cfg.server)
	if wsErr == nil {
		return ws, nil
	}

	logf(cfg, "CONN: websocket dial failed (%v), trying long-poll", wsErr)

	poll, pollErr := dialPoll(ctx, cfg.server)
	if pollErr != nil {
		return nil, fmt.Errorf("websocket: %v; polling: %w", wsErr, pollErr)
	}
	return poll, nil
}

// wsTransport wraps a gorilla websocket connection. Writes are serialized;
// gorilla conns do not allow concurrent writers.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWebsocket(ctx context.Context, server string) (*wsTransport, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) send(e envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return t.conn.WriteJSON(e)
}

func (t *wsTransport) receive() (envelope, error) {
	var e envelope
	err := t.conn.ReadJSON(&e)
	return e, err
}

func (t *wsTransport) close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return t.conn.Close()
}

func (t *wsTransport) name() string { return "websocket" }

// pollTransport emulates the bidirectional stream over plain HTTP: the server
// assigns a poll session, inbound envelopes are fetched with blocking GETs,
// and outbound envelopes are POSTed one at a time.
type pollTransport struct {
	base    string
	session string
	client  *http.Client

	mu     sync.Mutex
	buf    []envelope
	closed bool
}

func dialPoll(ctx context.Context, server string) (*pollTransport, error) {
	base := strings.TrimSuffix(server, "/")
	client := &http.Client{Timeout: pollTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/poll", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll handshake: status %d", resp.StatusCode)
	}

	var handshake struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&handshake); err != nil {
		return nil, err
	}
	if handshake.SessionID == "" {
		return nil, fmt.Errorf("poll handshake: empty session id")
	}

	return &pollTransport{
		base:    base,
		session: handshake.SessionID,
		client:  client,
	}, nil
}

func (t *pollTransport) endpoint() string {
	return t.base + "/poll/" + t.session
}

func (t *pollTransport) send(e envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	resp, err := t.client.Post(t.endpoint(), "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll send: status %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) receive() (envelope, error) {
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return envelope{}, ErrConnectionLost
		}
		if len(t.buf) > 0 {
			e := t.buf[0]
			t.buf = t.buf[1:]
			t.mu.Unlock()
			return e, nil
		}
		t.mu.Unlock()

		resp, err := t.client.Get(t.endpoint())
		if err != nil {
			return envelope{}, err
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return envelope{}, fmt.Errorf("poll receive: status %d", resp.StatusCode)
		}

		var batch []envelope
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			return envelope{}, err
		}

		// An empty batch just means the long poll timed out server-side.
		t.mu.Lock()
		t.buf = append(t.buf, batch...)
		t.mu.Unlock()
	}
}

func (t *pollTransport) close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	req, err := http.NewRequest(http.MethodDelete, t.endpoint(), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (t *pollTransport) name() string { return "polling" }
