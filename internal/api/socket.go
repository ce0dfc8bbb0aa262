package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/pkg/models"
	"github.com/fruitsalade/bitflow/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	socketQueue    = 32
)

// checkOrigin admits requests without an Origin header, and otherwise only
// origins listed in CORS_ALLOWED_ORIGINS ("*" admits all).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.CORSAllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return false
}

// ─── WebSocket ──────────────────────────────────────────────────────────────

// handleSocket serves the list_dir protocol. Each list_dir request runs in
// its own goroutine; all frames go out through a single writer.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithContext(r.Context()).Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	logger := logging.WithContext(ctx)
	logger.Debug("socket connected", zap.String("remote_addr", r.RemoteAddr))

	out := make(chan protocol.SocketMessage, socketQueue)
	writerDone := make(chan struct{})
	go s.socketWriter(conn, out, cancel, writerDone)

	send := func(event string, payload any) error {
		msg, err := protocol.NewSocketMessage(event, payload)
		if err != nil {
			return err
		}
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		close(out)
		<-writerDone
		logger.Debug("socket closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("socket read failed", zap.Error(err))
			}
			return
		}

		var msg protocol.SocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(protocol.EventError, protocol.NewError(http.StatusBadRequest, "invalid message"))
			continue
		}

		switch msg.Event {
		case protocol.EventListDir:
			var req protocol.ListDirRequest
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &req); err != nil {
					send(protocol.EventListDirResult, protocol.ListDirResult{
						Status:  protocol.StatusError,
						Code:    http.StatusBadRequest,
						Message: "invalid list_dir request",
					})
					continue
				}
			}
			if req.BatchSize < 0 {
				req.BatchSize = 0
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.serveListDir(ctx, req, send)
			}()
		default:
			send(protocol.EventError, protocol.NewError(http.StatusBadRequest, "unknown event: "+msg.Event))
		}
	}
}

// serveListDir answers one list_dir request: a loading status, progress
// statuses, and a final list_dir_result.
func (s *Server) serveListDir(ctx context.Context, req protocol.ListDirRequest, send func(string, any) error) {
	batch := req.BatchSize
	if batch == 0 {
		batch = s.config.ListBatchSize
	}

	if err := send(protocol.EventListDirStatus, protocol.ListDirStatus{
		Status: protocol.ListStatusLoading,
		Path:   mediaroot.Normalize(req.Path),
	}); err != nil {
		return
	}

	node, err := s.runProgressListing(ctx, req.Path, batch, func(ev models.ProgressEvent) error {
		return send(protocol.EventListDirStatus, protocol.StatusFromEvent(ev))
	})
	if ctx.Err() != nil {
		return
	}
	send(protocol.EventListDirResult, s.listResult(ctx, node, err))
}

// socketWriter owns all writes to conn. A write failure cancels the
// connection and unblocks the reader; remaining messages are discarded
// until out is closed.
func (s *Server) socketWriter(conn *websocket.Conn, out <-chan protocol.SocketMessage, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	failed := false
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				if !failed {
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if failed {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				failed = true
				cancel()
				conn.Close()
			}
		case <-ticker.C:
			if failed {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				cancel()
				conn.Close()
			}
		}
	}
}
