package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/bitflow/pkg/protocol"
)

func dialSocket(t *testing.T, serverURL string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/socket"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.SocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.SocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func sendListDir(t *testing.T, conn *websocket.Conn, req protocol.ListDirRequest) {
	t.Helper()
	msg, err := protocol.NewSocketMessage(protocol.EventListDir, req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntilResult collects status messages up to the next list_dir_result.
func readUntilResult(t *testing.T, conn *websocket.Conn) ([]protocol.ListDirStatus, protocol.ListDirResult) {
	t.Helper()
	var statuses []protocol.ListDirStatus
	for {
		msg := readMessage(t, conn)
		switch msg.Event {
		case protocol.EventListDirStatus:
			var st protocol.ListDirStatus
			require.NoError(t, json.Unmarshal(msg.Data, &st))
			statuses = append(statuses, st)
		case protocol.EventListDirResult:
			var res protocol.ListDirResult
			require.NoError(t, json.Unmarshal(msg.Data, &res))
			return statuses, res
		default:
			t.Fatalf("unexpected event %q", msg.Event)
		}
	}
}

func TestSocketListDir(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialSocket(t, ts.URL, nil)

	sendListDir(t, conn, protocol.ListDirRequest{Path: "/", BatchSize: 3})
	statuses, result := readUntilResult(t, conn)

	require.Len(t, statuses, 4, "loading, two batches, done")
	assert.Equal(t, protocol.ListStatusLoading, statuses[0].Status)
	assert.Equal(t, protocol.ListStatusProgress, statuses[1].Status)
	require.NotNil(t, statuses[1].ListDirProgress)
	assert.Len(t, statuses[1].Batch, 3)
	assert.Equal(t, 3, statuses[1].Scanned)
	assert.Len(t, statuses[2].Batch, 2)
	assert.Equal(t, 5, statuses[2].Scanned)
	assert.Equal(t, protocol.ListStatusDone, statuses[3].Status)
	assert.Nil(t, statuses[3].ListDirProgress)

	assert.Equal(t, protocol.StatusSuccess, result.Status)
	require.NotNil(t, result.Data)
	assert.Equal(t, []string{"Movies", "music", "clip.mp4", "notes.txt", "Zeta.mp3"}, childNames(result.Data))
}

func TestSocketListDirDefaultsToRoot(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialSocket(t, ts.URL, nil)

	require.NoError(t, conn.WriteJSON(protocol.SocketMessage{Event: protocol.EventListDir}))
	statuses, result := readUntilResult(t, conn)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "/", statuses[0].Path)
	assert.Equal(t, protocol.StatusSuccess, result.Status)
	assert.Equal(t, "/", result.Data.Path)
}

func TestSocketListDirErrors(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialSocket(t, ts.URL, nil)

	tests := []struct {
		path string
		code int
	}{
		{"/missing", http.StatusNotFound},
		{"/../outside", http.StatusBadRequest},
	}
	for _, tt := range tests {
		sendListDir(t, conn, protocol.ListDirRequest{Path: tt.path})
		statuses, result := readUntilResult(t, conn)
		require.Len(t, statuses, 1, "only loading before an error")
		assert.Equal(t, protocol.StatusError, result.Status, tt.path)
		assert.Equal(t, tt.code, result.Code, tt.path)
		assert.NotEmpty(t, result.Message)
	}
}

func TestSocketRejectsUnknownEvents(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialSocket(t, ts.URL, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, protocol.EventError, msg.Event)

	require.NoError(t, conn.WriteJSON(protocol.SocketMessage{Event: "delete_everything"}))
	msg = readMessage(t, conn)
	require.Equal(t, protocol.EventError, msg.Event)
	var e protocol.ErrorResponse
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, http.StatusBadRequest, e.Code)

	// The connection stays usable.
	sendListDir(t, conn, protocol.ListDirRequest{Path: "/Movies"})
	_, result := readUntilResult(t, conn)
	assert.Equal(t, protocol.StatusSuccess, result.Status)
}

func TestSocketCheckOrigin(t *testing.T) {
	s := newDirectServer(t)
	s.config.CORSAllowedOrigins = []string{"http://tv.local"}

	tests := []struct {
		origin string
		host   string
		ok     bool
	}{
		{"", "media.local:8888", true},
		{"http://tv.local", "media.local:8888", true},
		{"HTTP://TV.LOCAL", "media.local:8888", true},
		{"http://media.local:8888", "media.local:8888", true},
		{"http://evil.example", "media.local:8888", false},
	}
	for _, tt := range tests {
		r, _ := http.NewRequest("GET", "http://"+tt.host+"/api/v1/socket", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.ok, s.checkOrigin(r), "origin %q", tt.origin)
	}

	s.config.CORSAllowedOrigins = []string{"*"}
	r, _ := http.NewRequest("GET", "http://media.local/api/v1/socket", nil)
	r.Header.Set("Origin", "http://anything.example")
	assert.True(t, s.checkOrigin(r))
}

func TestSocketRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t, "s3cret")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/socket"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	req, _ := http.NewRequest("GET", ts.URL, nil)
	req.SetBasicAuth("bitflow", "s3cret")
	header.Set("Authorization", req.Header.Get("Authorization"))
	conn := dialSocket(t, ts.URL, header)
	sendListDir(t, conn, protocol.ListDirRequest{Path: "/"})
	_, result := readUntilResult(t, conn)
	assert.Equal(t, protocol.StatusSuccess, result.Status)
}
