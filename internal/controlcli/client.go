package controlcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/mfulz/geistbind/protocol"
)

// CallRequest describes one function invocation.
type CallRequest struct {
	Name     string
	Type     string
	Function string
	Args     []string
	ArgsH    map[string]string
	DefArgs  []string
}

// CallResult collects what the daemon sent for one invocation.
type CallResult struct {
	Reply    protocol.Hash
	Updates  []protocol.Hash
	Commands []string
}

// Client plays the host side of the protocol for a single connection.
type Client struct {
	ws     *websocket.Conn
	nextID int

	// Answer produces the result for a host command; nil answers "".
	Answer func(cmd string) string
	// Linger is how long to keep collecting pushes after the reply.
	Linger time.Duration
}

// Dial connects to a daemon.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("daemon at %s already has a host connection", rawURL)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}
	return &Client{ws: ws}, nil
}

// Close closes the connection with a normal closure.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// Call sends a function request and collects frames until the reply arrived
// and the linger period is over, or ctx is done.
func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	c.nextID++
	id := c.nextID

	frame := protocol.Hash{
		protocol.FieldID:       id,
		protocol.FieldMsgType:  protocol.MsgFunction,
		protocol.FieldName:     req.Name,
		protocol.FieldType:     req.Type,
		protocol.FieldFunction: req.Function,
		protocol.FieldArgs:     nonNil(req.Args),
		protocol.FieldArgsH:    nonNilMap(req.ArgsH),
		protocol.FieldDefArgs:  nonNil(req.DefArgs),
		protocol.FieldDefArgsH: map[string]string{},
	}
	if err := c.write(frame); err != nil {
		return nil, err
	}

	res := &CallResult{}
	var lingerUntil time.Time
	for {
		deadline, ok := ctx.Deadline()
		if !lingerUntil.IsZero() && (!ok || lingerUntil.Before(deadline)) {
			deadline = lingerUntil
		}
		_ = c.ws.SetReadDeadline(deadline)

		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() && res.Reply != nil {
				return res, nil
			}
			return res, fmt.Errorf("reading from daemon: %w", err)
		}

		in, err := protocol.Decode(raw)
		if err != nil {
			logging.Log.Warnf("[bindctl] invalid frame: %v", err)
			continue
		}

		switch {
		case in.String(protocol.FieldMsgType) == protocol.MsgCommand:
			cmd := in.String(protocol.FieldCommand)
			res.Commands = append(res.Commands, cmd)
			if err := c.answer(in.String(protocol.FieldAwaitID), cmd); err != nil {
				return res, err
			}
		case in.String(protocol.FieldMsgType) == protocol.MsgUpdateHash:
			res.Updates = append(res.Updates, in)
		case in.String(protocol.FieldID) == fmt.Sprint(id) && in.Has(protocol.FieldFinished):
			res.Reply = in
			if c.Linger <= 0 {
				return res, nil
			}
			lingerUntil = time.Now().Add(c.Linger)
		default:
			logging.Log.Debugf("[bindctl] ignoring frame %s", raw)
		}
	}
}

func (c *Client) answer(token, cmd string) error {
	result := ""
	if c.Answer != nil {
		result = c.Answer(cmd)
	}
	return c.write(protocol.Hash{
		protocol.FieldAwaitID: token,
		protocol.FieldResult:  result,
		protocol.FieldError:   "",
	})
}

func (c *Client) write(h protocol.Hash) error {
	data, err := protocol.Encode(h)
	if err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// Health is the daemon status document.
type Health struct {
	Status           string   `json:"status"`
	Connected        bool     `json:"connected"`
	Instances        []string `json:"instances"`
	Loading          []string `json:"loading"`
	PendingListeners int      `json:"pending_listeners"`
	Workers          int      `json:"workers"`
}

// FetchHealth queries the health endpoint of the daemon at the websocket URL.
func FetchHealth(ctx context.Context, wsURL string) (*Health, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/healthz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &h, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
