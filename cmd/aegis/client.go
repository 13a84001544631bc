package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/benaskins/aegis/internal/protocol"
)

// clientTimeout covers a queued request plus a full challenge.
const clientTimeout = 5 * time.Minute

func apiClient() *http.Client {
	socket := socketPath()
	return &http.Client{
		Timeout: clientTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
}

// invoke runs one protocol call. Interrupting the CLI withdraws a call that
// is still waiting on a ceremony.
func invoke(method protocol.Method, args protocol.Arguments, v any) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	body, err := json.Marshal(protocol.Call{Method: string(method), Arguments: args})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://aegis/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := apiClient().Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is aegis daemon running?)", err)
	}
	defer resp.Body.Close()

	var out protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	return out.Decode(v)
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://aegis" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is aegis daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPost(path string) (map[string]any, error) {
	resp, err := apiClient().Post("http://aegis"+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is aegis daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return result, nil
}
