package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"chatflow/pkg/httpx"
	"chatflow/pkg/logger"
	"chatflow/pkg/models"
)

// QueryRequest is the HTTP submission that accompanies a streaming session.
type QueryRequest struct {
	QueryID        string `json:"query_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Transport binds the engine to the backend: a per-query WebSocket stream
// plus the synchronous HTTP submissions. Implementations must deliver
// frames in connection order; HTTP completion order relative to frames is
// not guaranteed and the controller does not rely on it.
type Transport interface {
	// OpenStream connects the frame stream for a query. onFrame receives
	// each raw frame; onError reports transport-level stream failures.
	// The returned closer detaches delivery and is safe to call twice.
	OpenStream(ctx context.Context, queryID string, onFrame func(raw []byte), onError func(error)) (func(), error)
	SubmitQuery(ctx context.Context, req QueryRequest) ([]byte, error)
	SubmitApproval(ctx context.Context, sub models.ApprovalSubmission) error
}

// BackendConfig holds the endpoints for the live backend transport.
type BackendConfig struct {
	BaseURL string
	WSURL   string
	APIKey  string
}

// BackendTransport is the production Transport over gorilla/websocket and
// an httpx client.
type BackendTransport struct {
	cfg    BackendConfig
	client httpx.Client
	dialer *websocket.Dialer
}

// NewBackendTransport builds the live transport.
func NewBackendTransport(cfg BackendConfig, client httpx.Client) *BackendTransport {
	return &BackendTransport{cfg: cfg, client: client, dialer: websocket.DefaultDialer}
}

func (t *BackendTransport) headers() map[string]string {
	h := map[string]string{}
	if t.cfg.APIKey != "" {
		h["X-API-Key"] = t.cfg.APIKey
	}
	return h
}

// OpenStream dials the backend WebSocket scoped to queryID and pumps
// frames into onFrame until closed or the peer goes away.
func (t *BackendTransport) OpenStream(ctx context.Context, queryID string, onFrame func([]byte), onError func(error)) (func(), error) {
	u, err := url.Parse(t.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("query_id", queryID)
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	if t.cfg.APIKey != "" {
		hdr.Set("X-API-Key", t.cfg.APIKey)
	}
	conn, _, err := t.dialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	var once sync.Once
	done := make(chan struct{})
	closer := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	go func() {
		defer closer()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					// detached locally, not an error
				default:
					if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						logger.Warn("websocket_read_failed", "query", queryID, "error", err)
						if onError != nil {
							onError(err)
						}
					}
				}
				return
			}
			onFrame(raw)
		}
	}()

	logger.Debug("websocket_connected", "query", queryID)
	return closer, nil
}

// SubmitQuery posts the query and returns the final result body.
func (t *BackendTransport) SubmitQuery(ctx context.Context, req QueryRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	_, respBody, err := t.client.PostJSON(ctx, t.cfg.BaseURL+"/api/query", body, t.headers())
	if err != nil {
		return nil, fmt.Errorf("submit query: %w", err)
	}
	return respBody, nil
}

// SubmitApproval delivers an approval resolution to the backend.
func (t *BackendTransport) SubmitApproval(ctx context.Context, sub models.ApprovalSubmission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	_, _, err = t.client.PostJSON(ctx, t.cfg.BaseURL+"/api/approvals/respond", body, t.headers())
	if err != nil {
		return fmt.Errorf("submit approval: %w", err)
	}
	return nil
}
