package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/bitflow/internal/auth"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
	"github.com/fruitsalade/bitflow/pkg/models"
	"github.com/fruitsalade/bitflow/pkg/protocol"
)

type sseEvent struct {
	name string
	data string
}

// readSSE collects every event until the server closes the stream.
func readSSE(t *testing.T, url string) []sseEvent {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestListEventsStream(t *testing.T) {
	ts, _ := newTestServer(t, "")

	events := readSSE(t, ts.URL+"/api/v1/list/events?path=/&batch=2")
	require.GreaterOrEqual(t, len(events), 4)

	var first protocol.ListDirStatus
	require.Equal(t, protocol.EventListDirStatus, events[0].name)
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &first))
	assert.Equal(t, protocol.ListStatusLoading, first.Status)
	assert.Equal(t, "/", first.Path)

	// Five visible entries in batches of two, then done, then the result.
	var batches [][]string
	var scanned []int
	doneCount := 0
	for _, ev := range events[1 : len(events)-1] {
		require.Equal(t, protocol.EventListDirStatus, ev.name)
		var status struct {
			Status  string               `json:"status"`
			Scanned int                  `json:"scanned"`
			Total   *int                 `json:"total"`
			Percent *float64             `json:"percent"`
			Batch   []models.ListingNode `json:"batch"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev.data), &status))
		switch status.Status {
		case protocol.ListStatusProgress:
			require.Zero(t, doneCount, "progress after done")
			require.NotNil(t, status.Total)
			assert.Equal(t, 5, *status.Total)
			require.NotNil(t, status.Percent)
			var names []string
			for _, n := range status.Batch {
				names = append(names, n.Details.Name)
			}
			batches = append(batches, names)
			scanned = append(scanned, status.Scanned)
		case protocol.ListStatusDone:
			doneCount++
		default:
			t.Fatalf("unexpected status %q", status.Status)
		}
	}
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, [][]string{{"Movies", "music"}, {"clip.mp4", "notes.txt"}, {"Zeta.mp3"}}, batches)
	assert.Equal(t, []int{2, 4, 5}, scanned)

	last := events[len(events)-1]
	require.Equal(t, protocol.EventListDirResult, last.name)
	var result protocol.ListDirResult
	require.NoError(t, json.Unmarshal([]byte(last.data), &result))
	assert.Equal(t, protocol.StatusSuccess, result.Status)
	require.NotNil(t, result.Data)
	assert.Equal(t, []string{"Movies", "music", "clip.mp4", "notes.txt", "Zeta.mp3"}, childNames(result.Data))
}

func TestListEventsError(t *testing.T) {
	ts, _ := newTestServer(t, "")

	events := readSSE(t, ts.URL+"/api/v1/list/events?path=/missing")
	require.Len(t, events, 2, "loading then result, no done")

	var result protocol.ListDirResult
	require.Equal(t, protocol.EventListDirResult, events[1].name)
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &result))
	assert.Equal(t, protocol.StatusError, result.Status)
	assert.Equal(t, http.StatusNotFound, result.Code)
	assert.Contains(t, result.Message, "/missing")
	assert.Nil(t, result.Data)
}

func TestListEventsBadBatch(t *testing.T) {
	ts, _ := newTestServer(t, "")

	for _, batch := range []string{"0", "-3", "ten"} {
		resp, err := http.Get(ts.URL + "/api/v1/list/events?path=/&batch=" + batch)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "batch=%s", batch)
	}
}

func newDirectServer(t *testing.T) *Server {
	t.Helper()
	resolver, err := mediaroot.New(setupMediaRoot(t))
	require.NoError(t, err)
	authHandler, err := auth.New(auth.Config{})
	require.NoError(t, err)
	s := NewServer(resolver, authHandler, testConfig())
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestRunProgressListingStopsOnEmitError(t *testing.T) {
	s := newDirectServer(t)

	stop := errors.New("client gone")
	calls := 0
	node, err := s.runProgressListing(context.Background(), "/", 1, func(ev models.ProgressEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Nil(t, node)
	assert.Equal(t, 1, calls, "no events are forwarded after a failed emit")
	assert.Zero(t, s.hub.Count(), "stream released")
}

func TestRunProgressListingCancelled(t *testing.T) {
	s := newDirectServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	var got []models.ProgressEvent
	node, err := s.runProgressListing(ctx, "/", 1, func(ev models.ProgressEvent) error {
		got = append(got, ev)
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, node)
	require.Len(t, got, 1, "nothing is forwarded after cancellation")
	assert.Equal(t, models.EventProgress, got[0].Event)

	// The pool keeps serving after a cancelled listing.
	node, err = s.runProgressListing(context.Background(), "/Movies", 0, func(models.ProgressEvent) error { return nil })
	require.NoError(t, err)
	assert.Len(t, node.Children, 1)
}

func TestRunProgressListingAfterStop(t *testing.T) {
	s := newDirectServer(t)
	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.runProgressListing(ctx, "/", 0, func(models.ProgressEvent) error { return nil })
	code, _ := errorStatus(err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
