// Package protocol defines the API request/response types.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/fruitsalade/bitflow/pkg/models"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error envelope.
func NewError(code int, message string) ErrorResponse {
	return ErrorResponse{Status: StatusError, Code: code, Message: message}
}

// ListResponse is returned by GET /api/v1/list
type ListResponse struct {
	Status string              `json:"status"`
	Data   *models.ListingNode `json:"data"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// TokenRequest is the body of POST /api/v1/auth/token
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /api/v1/auth/token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Socket and SSE event names.
const (
	EventListDir       = "list_dir"
	EventListDirStatus = "list_dir_status"
	EventListDirResult = "list_dir_result"
	EventError         = "error"
)

// list_dir_status values.
const (
	ListStatusLoading  = "loading"
	ListStatusProgress = "progress"
	ListStatusDone     = "done"
)

// SocketMessage is the frame exchanged over the WebSocket transport.
type SocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ListDirRequest is the payload of a list_dir message.
type ListDirRequest struct {
	Path      string `json:"path"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// ListDirStatus is the payload of a list_dir_status event. Progress fields
// are only present when Status is "progress".
type ListDirStatus struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	*ListDirProgress
}

// ListDirProgress carries one batch of a progressive listing.
type ListDirProgress struct {
	Scanned int                  `json:"scanned"`
	Total   *int                 `json:"total"`
	Percent *float64             `json:"percent"`
	Batch   []models.ListingNode `json:"batch"`
}

// ListDirResult is the payload of a list_dir_result event.
type ListDirResult struct {
	Status  string              `json:"status"`
	Data    *models.ListingNode `json:"data,omitempty"`
	Code    int                 `json:"code,omitempty"`
	Message string              `json:"message,omitempty"`
}

// StatusFromEvent converts a lister event into its wire form.
func StatusFromEvent(ev models.ProgressEvent) ListDirStatus {
	if ev.Event == models.EventDone {
		return ListDirStatus{Status: ListStatusDone, Path: ev.Path}
	}
	return ListDirStatus{
		Status: ListStatusProgress,
		Path:   ev.Path,
		ListDirProgress: &ListDirProgress{
			Scanned: ev.Scanned,
			Total:   ev.Total,
			Percent: ev.Percent,
			Batch:   ev.Batch,
		},
	}
}

// NewSocketMessage encodes a payload into a socket frame.
func NewSocketMessage(event string, payload any) (SocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return SocketMessage{}, err
	}
	return SocketMessage{Event: event, Data: data}, nil
}
