package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/workmesh/realtime/internal/proto"
)

// pollTransport is the HTTP long-poll fallback. The gateway exposes three
// endpoints under a common base: POST /session (hello handshake, returns a
// session id), GET /events?session=... (blocks until frames are available or
// the server's poll window lapses), POST /emit?session=... (outbound frames).
//
// No pack-style HTTP client library exists for this; gin and friends are
// server frameworks, so this side uses net/http directly.
type pollTransport struct {
	base string
	http *http.Client

	mu      sync.Mutex
	session string
	pending []proto.Inbound
}

// NewPollTransport returns the long-poll transport for the given base URL.
func NewPollTransport(base string) Transport {
	return &pollTransport{
		base: base,
		// No overall client timeout: the events request is expected to hang
		// for the length of the server's poll window. Cancellation comes
		// from the request context.
		http: &http.Client{},
	}
}

func (t *pollTransport) Dial(ctx context.Context, hello proto.HelloData) (*proto.HelloOKData, error) {
	body, err := json.Marshal(hello)
	if err != nil {
		return nil, fmt.Errorf("marshal hello: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/session", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open poll session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: poll session refused", ErrAuthRejected)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open poll session: status %d", resp.StatusCode)
	}

	var opened struct {
		Session string            `json:"session"`
		Hello   proto.HelloOKData `json:"hello"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("decode poll session: %w", err)
	}

	t.mu.Lock()
	t.session = opened.Session
	t.pending = nil
	t.mu.Unlock()
	return &opened.Hello, nil
}

// Read returns one buffered frame, long-polling the gateway when the buffer
// is empty. An empty poll response simply re-polls.
func (t *pollTransport) Read(ctx context.Context) (*proto.Inbound, error) {
	for {
		if in := t.takePending(); in != nil {
			return in, nil
		}

		session := t.currentSession()
		if session == "" {
			return nil, ErrNotConnected
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+"/events?session="+session, nil)
		if err != nil {
			return nil, err
		}
		resp, err := t.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("poll events: %w", err)
		}
		frames, err := decodeFrames(resp)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		t.pending = append(t.pending, frames...)
		t.mu.Unlock()
	}
}

func (t *pollTransport) Write(ctx context.Context, out proto.Outbound) error {
	session := t.currentSession()
	if session == "" {
		return ErrNotConnected
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/emit?session="+session, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("emit frame: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("emit frame: status %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = ""
	t.pending = nil
	return nil
}

func (t *pollTransport) takePending() *proto.Inbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	in := t.pending[0]
	t.pending = t.pending[1:]
	return &in
}

func (t *pollTransport) currentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func decodeFrames(resp *http.Response) ([]proto.Inbound, error) {
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var frames []proto.Inbound
		if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
			return nil, fmt.Errorf("decode poll frames: %w", err)
		}
		return frames, nil
	case http.StatusNoContent:
		return nil, nil
	case http.StatusGone, http.StatusNotFound:
		return nil, fmt.Errorf("poll session lost: status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("poll events: status %d", resp.StatusCode)
	}
}
