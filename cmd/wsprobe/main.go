// Command wsprobe is a small client for exercising a running connpulse server.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/platform/logging"
	"github.com/pscheid92/connpulse/internal/platform/retry"
	"github.com/pscheid92/connpulse/internal/platform/version"
	"github.com/urfave/cli/v2"
)

var opts struct {
	URL       string
	AutoPong  bool
	Send      cli.StringSlice
	Duration  time.Duration
	Attempts  int
	LogLevel  string
	Message   string
	HTTPRoute string
}

func main() {
	app := &cli.App{
		Name:                 "wsprobe",
		Usage:                "connect to a connpulse server and print every frame until interrupted",
		Version:              version.Get().String(),
		EnableBashCompletion: true,
		Before: func(*cli.Context) error {
			logging.InitLogger(opts.LogLevel, "text")
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "WebSocket endpoint",
				Value:       "ws://localhost:8080/ws/",
				EnvVars:     []string{"WSPROBE_URL"},
				Destination: &opts.URL,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Value:       "info",
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &opts.LogLevel,
			},
		},
		Action: listen,
		Commands: []*cli.Command{
			{
				Name:   "broadcast",
				Usage:  "POST a JSON payload to the broadcast endpoint",
				Action: broadcast,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "message",
						Usage:       "JSON payload; empty triggers the default broadcast",
						Destination: &opts.Message,
					},
					&cli.StringFlag{
						Name:        "route",
						Value:       "/broadcast/",
						Destination: &opts.HTTPRoute,
					},
				},
			},
		},
	}
	app.Flags = append(app.Flags, listenFlags()...)

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func listenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "auto-pong",
			Usage:       "answer ping frames",
			Value:       true,
			Destination: &opts.AutoPong,
		},
		&cli.StringSliceFlag{
			Name:        "send",
			Usage:       "text frame to send after the greeting (repeatable)",
			Destination: &opts.Send,
		},
		&cli.IntFlag{
			Name:        "attempts",
			Usage:       "dial attempts before giving up",
			Value:       5,
			Destination: &opts.Attempts,
		},
		&cli.DurationFlag{
			Name:        "duration",
			Usage:       "stop after this long; 0 runs until interrupted",
			Destination: &opts.Duration,
		},
	}
}

func listen(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	policy := retry.Policy{
		MaxAttempts:     opts.Attempts,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		SlowDownBackoff: 5 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			slog.Warn("Dial failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	conn, err := retry.Do(ctx, policy, classifyDial, func(ctx context.Context) (*websocket.Conn, error) {
		return dial(ctx, opts.URL)
	})
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", opts.URL, err)
	}
	defer func() { _ = conn.Close() }()
	slog.Info("Connected", "url", opts.URL)

	// Unblocks ReadMessage once ctx ends.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	for _, frame := range opts.Send.Value() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return fmt.Errorf("failed to send frame: %w", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		fmt.Fprintf(c.App.Writer, "%s %s\n", time.Now().Format(time.TimeOnly), data)

		if opts.AutoPong && string(data) == domain.PingToken {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(domain.PongToken)); err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
		}
	}
}

// dialError keeps the HTTP status of a rejected upgrade for classifyDial.
type dialError struct {
	status int
	err    error
}

func (e *dialError) Error() string {
	if e.status == 0 {
		return e.err.Error()
	}
	return fmt.Sprintf("%v (status %d)", e.err, e.status)
}

func (e *dialError) Unwrap() error { return e.err }

func dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		dErr := &dialError{err: err}
		if resp != nil {
			dErr.status = resp.StatusCode
		}
		return nil, dErr
	}
	return conn, nil
}

// classifyDial retries refused connections and saturated servers but gives up on
// rejections that will not change, such as a forbidden origin.
func classifyDial(err error) retry.Action {
	var dErr *dialError
	if !errors.As(err, &dErr) {
		return retry.Retry
	}
	switch {
	case dErr.status == http.StatusTooManyRequests:
		return retry.Backoff
	case dErr.status == http.StatusServiceUnavailable, dErr.status == 0:
		return retry.Retry
	default:
		return retry.Stop
	}
}

func broadcast(c *cli.Context) error {
	target, err := broadcastURL(opts.URL, opts.HTTPRoute)
	if err != nil {
		return err
	}

	method, body := http.MethodGet, io.Reader(nil)
	if opts.Message != "" {
		method, body = http.MethodPost, bytes.NewBufferString(opts.Message)
	}

	req, err := http.NewRequestWithContext(c.Context, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("broadcast request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("broadcast failed with status %d: %s", resp.StatusCode, out)
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

// broadcastURL maps the WebSocket endpoint onto the HTTP route of the same server.
func broadcastURL(wsURL, route string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", wsURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = route
	u.RawQuery = ""
	return u.String(), nil
}
