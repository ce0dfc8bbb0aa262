package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/events"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/pkg/models"
	"github.com/fruitsalade/bitflow/pkg/protocol"
)

// ─── List ───────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	logical := r.URL.Query().Get("path")

	var node *models.ListingNode
	err := s.listPool.Do(r.Context(), func(ctx context.Context) error {
		var err error
		node, err = s.lister.ListOnce(ctx, logical)
		return err
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.sendMediaError(w, r, err)
		return
	}

	s.sendJSON(w, r, http.StatusOK, protocol.ListResponse{Status: protocol.StatusSuccess, Data: node})
}

// ─── SSE progress listing ───────────────────────────────────────────────────

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	batch, err := s.batchSize(r.URL.Query().Get("batch"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	logical := r.URL.Query().Get("path")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeEvent := func(name string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ctx := r.Context()
	if err := writeEvent(protocol.EventListDirStatus, protocol.ListDirStatus{
		Status: protocol.ListStatusLoading,
		Path:   mediaroot.Normalize(logical),
	}); err != nil {
		return
	}

	node, err := s.runProgressListing(ctx, logical, batch, func(ev models.ProgressEvent) error {
		return writeEvent(protocol.EventListDirStatus, protocol.StatusFromEvent(ev))
	})
	if ctx.Err() != nil {
		return
	}
	writeEvent(protocol.EventListDirResult, s.listResult(r.Context(), node, err))
}

// listResult builds the final list_dir_result payload.
func (s *Server) listResult(ctx context.Context, node *models.ListingNode, err error) protocol.ListDirResult {
	if err != nil {
		code, message := errorStatus(err)
		if code >= 500 {
			logging.WithContext(ctx).Error("progress listing failed", zap.Error(err))
		}
		return protocol.ListDirResult{Status: protocol.StatusError, Code: code, Message: message}
	}
	return protocol.ListDirResult{Status: protocol.StatusSuccess, Data: node}
}

// batchSize parses a batch query value; empty selects the configured size.
func (s *Server) batchSize(raw string) (int, error) {
	if raw == "" {
		return s.config.ListBatchSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid batch size: %q", raw)
	}
	return n, nil
}

// runProgressListing lists logical on the list pool and hands every
// progress event to emit on the calling goroutine, in order. emit may
// write to the client directly. An emit error stops the scan and is
// returned. Cancelling ctx returns immediately; the worker notices the
// same cancellation and winds down on its own.
func (s *Server) runProgressListing(ctx context.Context, logical string, batch int, emit func(models.ProgressEvent) error) (*models.ListingNode, error) {
	progress := s.hub.Open(mediaroot.Normalize(logical), events.DefaultBuffer)
	defer s.hub.Close(progress)

	var node *models.ListingNode
	done, err := s.listPool.Submit(ctx, func(jobCtx context.Context) error {
		defer progress.Finish()
		var err error
		node, err = s.lister.ListWithProgress(jobCtx, logical, batch, progress.EventFunc(jobCtx))
		return err
	})
	if err != nil {
		return nil, err
	}

	var emitErr error
	forward := func(ev models.ProgressEvent) {
		if emitErr != nil || ctx.Err() != nil {
			return
		}
		if err := emit(ev); err != nil {
			emitErr = err
			s.hub.Close(progress)
		}
	}

	evs := progress.Events()
	for {
		select {
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			forward(ev)

		case err := <-done:
			// A job that ran has finished the stream; whatever is still
			// buffered is delivered before the result. A job skipped
			// before it started leaves the stream open and empty.
		drain:
			for evs != nil {
				select {
				case ev, ok := <-evs:
					if !ok {
						break drain
					}
					forward(ev)
				default:
					break drain
				}
			}
			if emitErr != nil {
				return nil, emitErr
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if err != nil {
				return nil, err
			}
			return node, nil

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
