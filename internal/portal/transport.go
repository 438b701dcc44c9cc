package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"frameworks/customs/pkg/clients"
	"frameworks/customs/pkg/logging"
)

// accessDeviceRequest is the JSON body of the outbound AccessDevice call,
// the HTTP/JSON re-expression of spec.md §6's bus method args: UINT32 pid,
// ARRAY of STRING devices, DICT options (always empty here).
type accessDeviceRequest struct {
	RequestID string      `json:"request_id"`
	PID       uint32      `json:"pid"`
	Devices   []DeviceTag `json:"devices"`
	Options   struct{}    `json:"options"`
}

// accessDeviceReply carries the portal's request handle, the D-Bus analogue
// of spec.md §6's "Reply: OBJECT_PATH handle" — here the handle is just the
// request id we generated and sent, echoed back once accepted.
type accessDeviceReply struct {
	Handle string `json:"handle"`
}

// responseMessage is the inbound JSON frame corresponding to the portal
// Request interface's Response signal (spec.md §6): first arg is the
// numeric response code, 0 = granted.
type responseMessage struct {
	Handle   string `json:"handle"`
	Response uint32 `json:"response"`
}

// WSTransport implements Transport over a long-lived gorilla/websocket
// connection for inbound Response signals and an HTTP POST (through the
// failsafe-go retry/circuit-breaker executor) for the outbound AccessDevice
// call, grounded on pkg/clients/signalman/client.go's dial/readPump/
// writePump/ping-pong shape and pkg/clients/failsafe.go's executor.
type WSTransport struct {
	httpURL    string
	executor   failsafe.Executor[*http.Response]
	httpClient *http.Client
	logger     logging.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	responses chan Response

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWSTransport dials wsURL for inbound Response signals and will POST
// AccessDevice calls to httpURL. httpExecutorCfg, if zero-valued, falls
// back to clients.DefaultHTTPExecutorConfig().
func NewWSTransport(ctx context.Context, httpURL, wsURL string, httpExecutorCfg clients.HTTPExecutorConfig, logger logging.Logger) (*WSTransport, error) {
	if httpExecutorCfg.MaxRetries == 0 && httpExecutorCfg.BaseDelay == 0 && httpExecutorCfg.MaxDelay == 0 &&
		httpExecutorCfg.CircuitBreaker == nil && httpExecutorCfg.ShouldRetry == nil {
		httpExecutorCfg = clients.DefaultHTTPExecutorConfig()
	}
	t := &WSTransport{
		httpURL:    httpURL,
		executor:   clients.NewHTTPExecutor(httpExecutorCfg),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		responses:  make(chan Response, 64),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("portal: websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("portal: websocket dial failed: %w", err)
	}
	t.conn = conn

	go t.readPump()
	go t.writePump()

	return t, nil
}

// AccessDevice implements Transport. The initial send is the only
// permitted blocking call per spec.md §5; the reply only confirms the
// portal accepted the request; the actual allow/deny arrives later over
// the websocket as a Response.
func (t *WSTransport) AccessDevice(ctx context.Context, pid uint32, devices []DeviceTag) (string, error) {
	requestID := uuid.New().String()
	body, err := json.Marshal(accessDeviceRequest{RequestID: requestID, PID: pid, Devices: devices})
	if err != nil {
		return "", fmt.Errorf("portal: encode AccessDevice request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.httpURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("portal: build AccessDevice request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := clients.ExecuteHTTP(ctx, t.executor, func() (*http.Response, error) {
		return t.httpClient.Do(httpReq)
	})
	if err != nil {
		return "", fmt.Errorf("portal: AccessDevice send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("portal: AccessDevice returned status %d", resp.StatusCode)
	}

	var reply accessDeviceReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("portal: decode AccessDevice reply: %w", err)
	}
	if reply.Handle == "" {
		return "", fmt.Errorf("portal: AccessDevice reply missing handle")
	}

	return reply.Handle, nil
}

// Responses implements Transport.
func (t *WSTransport) Responses() <-chan Response {
	return t.responses
}

// Close tears down the websocket connection and stops the pumps.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.stopChan:
		return nil
	default:
		close(t.stopChan)
	}

	if t.conn != nil {
		t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.conn.Close()
	}
	<-t.doneChan
	close(t.responses)
	return nil
}

// readPump mirrors signalman.Client.readPump: read deadline, pong handler
// refreshing it, one JSON decode per inbound frame.
func (t *WSTransport) readPump() {
	defer func() {
		select {
		case t.doneChan <- struct{}{}:
		default:
		}
	}()

	t.conn.SetReadLimit(64 * 1024)
	t.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		var msg responseMessage
		if err := t.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && t.logger != nil {
				t.logger.WithFields(logging.Fields{"error": err}).Error("portal websocket read error")
			}
			return
		}

		resp := Response{RequestID: msg.Handle, Granted: msg.Response == 0}
		select {
		case t.responses <- resp:
		default:
			if t.logger != nil {
				t.logger.Warn("portal response channel full, dropping message")
			}
		}
	}
}

// writePump mirrors signalman.Client.writePump's ping keepalive.
func (t *WSTransport) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if t.logger != nil {
					t.logger.WithFields(logging.Fields{"error": err}).Error("portal websocket ping failed")
				}
				return
			}
		}
	}
}
