package aircloud

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	stompConnect   = "CONNECT"
	stompConnected = "CONNECTED"
	stompSubscribe = "SUBSCRIBE"
	stompMessage   = "MESSAGE"
	stompError     = "ERROR"

	heartbeatMillis = 10000
	minBackoff      = time.Second
	maxBackoff      = 5 * time.Minute
)

// frame is a STOMP 1.2 text frame.
type frame struct {
	Command string
	Headers map[string]string
	Body    string
}

func (f frame) encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	keys := make([]string, 0, len(f.Headers))
	for key := range f.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(f.Headers[key])
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.WriteString(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// parseFrames splits a websocket message into frames. Bare newlines are
// heart-beats and yield nothing.
func parseFrames(data []byte) ([]frame, error) {
	var frames []frame
	for _, chunk := range bytes.Split(data, []byte{0}) {
		text := strings.TrimLeft(strings.ReplaceAll(string(chunk), "\r\n", "\n"), "\n")
		if text == "" {
			continue
		}
		head, body, _ := strings.Cut(text, "\n\n")
		lines := strings.Split(head, "\n")
		f := frame{Command: strings.TrimSpace(lines[0]), Headers: make(map[string]string), Body: body}
		if f.Command == "" {
			return nil, fmt.Errorf("stomp frame without command")
		}
		for _, line := range lines[1:] {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("malformed stomp header %q", line)
			}
			// The first occurrence of a repeated header wins.
			if _, seen := f.Headers[key]; !seen {
				f.Headers[key] = value
			}
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Notifier listens for push notifications and triggers refreshes.
type Notifier struct {
	url        string
	host       string
	familyID   int
	token      func(ctx context.Context) (string, error)
	invalidate func()
	onMessage  func()
	dialer    *websocket.Dialer
	logger    logrus.FieldLogger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewNotifier builds a listener for rawURL. invalidate is called when the
// broker rejects the session so the next attempt fetches a fresh token.
func NewNotifier(rawURL string, familyID int, token func(ctx context.Context) (string, error), invalidate func(), onMessage func(), logger logrus.FieldLogger) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if invalidate == nil {
		invalidate = func() {}
	}
	var host string
	if parsed, err := url.Parse(rawURL); err == nil {
		host = parsed.Hostname()
	}
	return &Notifier{
		url:        rawURL,
		host:       host,
		familyID:   familyID,
		token:      token,
		invalidate: invalidate,
		onMessage:  onMessage,
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:     logger,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

func (n *Notifier) destination() string {
	return fmt.Sprintf("/notification/%d/%d", n.familyID, n.familyID)
}

// Run keeps a subscription open until ctx ends, reconnecting with capped
// exponential backoff.
func (n *Notifier) Run(ctx context.Context) {
	backoff := n.minBackoff
	for {
		started := time.Now()
		err := n.session(ctx)
		if ctx.Err() != nil {
			return
		}
		// A session that stayed up for a while resets the backoff.
		if time.Since(started) > n.maxBackoff {
			backoff = n.minBackoff
		}
		n.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("aircloud notifications disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > n.maxBackoff {
			backoff = n.maxBackoff
		}
	}
}

func (n *Notifier) session(ctx context.Context) error {
	token, err := n.token(ctx)
	if err != nil {
		return err
	}
	conn, _, err := n.dialer.DialContext(ctx, n.url, nil)
	if err != nil {
		return fmt.Errorf("dial notifications: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var writeMu sync.Mutex
	write := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	connect := frame{Command: stompConnect, Headers: map[string]string{
		"accept-version": "1.1,1.2",
		"heart-beat":     fmt.Sprintf("%d,%d", heartbeatMillis, heartbeatMillis),
		"Authorization":  "Bearer " + token,
	}}
	if n.host != "" {
		connect.Headers["host"] = n.host
	}
	if err := write(connect.encode()); err != nil {
		return fmt.Errorf("stomp connect: %w", err)
	}

	readTimeout := 30 * time.Second
	subscribed := false
	for {
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read notifications: %w", err)
		}
		frames, err := parseFrames(data)
		if err != nil {
			return err
		}
		for _, f := range frames {
			switch f.Command {
			case stompConnected:
				if subscribed {
					continue
				}
				incoming, outgoing := negotiateHeartbeat(f.Headers["heart-beat"])
				readTimeout = 3 * incoming
				if outgoing > 0 {
					go heartbeat(ctx, outgoing, write)
				}
				subscribe := frame{Command: stompSubscribe, Headers: map[string]string{
					"id":          "1",
					"destination": n.destination(),
					"ack":         "auto",
				}}
				if err := write(subscribe.encode()); err != nil {
					return fmt.Errorf("stomp subscribe: %w", err)
				}
				subscribed = true
				n.logger.WithField("destination", n.destination()).Info("aircloud notifications subscribed")
			case stompMessage:
				n.logger.WithField("destination", f.Headers["destination"]).Debug("aircloud notification")
				n.onMessage()
			case stompError:
				n.invalidate()
				return errors.New("stomp error: " + strings.TrimSpace(f.Headers["message"]+" "+f.Body))
			}
		}
	}
}

// negotiateHeartbeat applies the STOMP heart-beat rules to the server's
// CONNECTED header. Zero disables a direction.
func negotiateHeartbeat(header string) (incoming, outgoing time.Duration) {
	sx, sy, ok := strings.Cut(header, ",")
	if !ok {
		return 0, 0
	}
	serverSends, err1 := strconv.Atoi(strings.TrimSpace(sx))
	serverWants, err2 := strconv.Atoi(strings.TrimSpace(sy))
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	if serverSends > 0 {
		incoming = time.Duration(max(serverSends, heartbeatMillis)) * time.Millisecond
	}
	if serverWants > 0 {
		outgoing = time.Duration(max(serverWants, heartbeatMillis)) * time.Millisecond
	}
	return incoming, outgoing
}

func heartbeat(ctx context.Context, every time.Duration, write func([]byte) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := write([]byte("\n")); err != nil {
				return
			}
		}
	}
}
