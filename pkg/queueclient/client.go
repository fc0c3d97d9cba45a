// Package queueclient follows a doctor's live queue over the websocket
// stream and reconnects with exponential backoff when the connection drops.
package queueclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrGaveUp is returned by Run after too many consecutive failed attempts.
var ErrGaveUp = errors.New("queueclient: giving up after repeated connection failures")

// Entry mirrors one row of the server's queue snapshot.
type Entry struct {
	AppointmentID string     `json:"appointment_id"`
	PatientCode   string     `json:"patient_code"`
	PatientName   string     `json:"patient_name"`
	SerialNumber  int        `json:"serial_number"`
	QueuePosition int        `json:"queue_position"`
	Status        string     `json:"status"`
	Type          string     `json:"appointment_type"`
	EntryTime     *time.Time `json:"entry_time,omitempty"`
}

type Snapshot struct {
	DoctorID       string    `json:"doctor_id"`
	Day            string    `json:"day"`
	Entries        []Entry   `json:"entries"`
	Waiting        int       `json:"waiting"`
	InConsultation int       `json:"in_consultation"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Backoff is the reconnect policy: the n-th consecutive failure waits
// min(Initial*2^n, Max). After MaxFailures failures in a row Run stops.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxFailures int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, MaxFailures: 10}
}

// Delay returns the wait after failure n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	d := b.Initial
	for i := 0; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	backoff Backoff
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithBackoff(b Backoff) Option { return func(c *Client) { c.backoff = b } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithToken sends the bearer token in the handshake.
func WithToken(token string) Option {
	return func(c *Client) { c.header.Set("Authorization", "Bearer "+token) }
}

// New builds a client for doctorID on the server at baseURL
// (http://host:port or ws://host:port).
func New(baseURL, doctorID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/queue/stream/" + doctorID

	c := &Client{
		url:     u.String(),
		header:  http.Header{},
		dialer:  websocket.DefaultDialer,
		backoff: DefaultBackoff(),
		logger:  zerolog.Nop(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run streams snapshots to handle until ctx is cancelled or the backoff
// policy gives up. A successful connection resets the failure count.
func (c *Client) Run(ctx context.Context, handle func(Snapshot)) error {
	failures := 0
	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			failures = 0
		}
		delay := c.backoff.Delay(failures)
		if !connected {
			failures++
			if failures >= c.backoff.MaxFailures {
				return fmt.Errorf("%w: %v", ErrGaveUp, err)
			}
		}
		c.logger.Warn().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("queue stream disconnected")
		if err := c.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session dials once and reads until the connection ends. connected reports
// whether the handshake succeeded.
func (c *Client) session(ctx context.Context, handle func(Snapshot)) (connected bool, err error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %s", c.url, resp.Status)
		}
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			c.logger.Warn().Err(err).Msg("ignoring undecodable snapshot")
			continue
		}
		handle(snap)
	}
}
