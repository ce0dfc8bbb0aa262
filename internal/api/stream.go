package api

import (
	"context"
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/inspect"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/metrics"
	"github.com/fruitsalade/bitflow/internal/stream"
)

// ─── Streaming ──────────────────────────────────────────────────────────────

// handleStream serves audio, video and images inline for playback.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, stream.Inline)
}

// handleDownload serves any file as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, stream.Attachment)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, mode stream.Mode) {
	logical := r.URL.Query().Get("path")
	if logical == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	path, err := s.resolver.Resolve(logical)
	if err != nil {
		s.sendMediaError(w, r, err)
		return
	}

	resp, err := s.streams.Open(path, mode, r.Header.Get("Range"))
	if err != nil {
		s.sendMediaError(w, r, err)
		return
	}
	defer resp.Close()

	if mode == stream.Inline && !inspect.IsStreamable(resp.ContentType) {
		metrics.RecordStreamResponse(mode.String(), http.StatusUnsupportedMediaType)
		s.sendError(w, http.StatusUnsupportedMediaType, "unsupported media type: "+inspect.MediaType(resp.ContentType))
		return
	}

	writeHeader := func() {
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.Status)
		metrics.RecordStreamResponse(mode.String(), resp.Status)
	}

	if r.Method == http.MethodHead || !resp.HasBody() {
		writeHeader()
		return
	}

	// The stream worker writes headers and body; Do returns only after it
	// is done with w. When no worker was free before the client gave up,
	// nothing has been written yet.
	started := false
	var written int64
	err = s.streamPool.Do(r.Context(), func(ctx context.Context) error {
		started = true
		writeHeader()
		var err error
		written, err = resp.WriteTo(ctx, w)
		return err
	})
	metrics.RecordStreamBytes(mode.String(), written)

	logger := logging.WithContext(r.Context())
	switch {
	case err == nil:
		logger.Debug("stream complete",
			zap.String("path", path.Logical()),
			zap.String("mode", mode.String()),
			zap.String("sent", humanize.IBytes(uint64(written))))
	case r.Context().Err() != nil:
		logger.Debug("client went away while streaming",
			zap.String("path", path.Logical()),
			zap.String("sent", humanize.IBytes(uint64(written))))
	case !started:
		s.sendMediaError(w, r, err)
	default:
		// Headers are already sent; abort the connection.
		metrics.RecordStreamAbort()
		logger.Error("stream aborted",
			zap.String("path", path.Logical()),
			zap.String("sent", humanize.IBytes(uint64(written))),
			zap.Error(err))
		resp.Close()
		panic(http.ErrAbortHandler)
	}
}
