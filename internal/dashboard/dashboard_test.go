package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoursegraphs/dgsync/internal/daemon"
	"github.com/discoursegraphs/dgsync/internal/importer"
	"github.com/discoursegraphs/dgsync/internal/metrics"
	dgsync "github.com/discoursegraphs/dgsync/internal/sync"
)

func setupServer(t *testing.T) (*Server, *Handler, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	server := NewServer(&Config{Metrics: m})
	handler := NewHandler(server, nil)
	server.StartBroadcasting()

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		ts.Close()
	})
	return server, handler, ts, m
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketWelcome(t *testing.T) {
	server, _, ts, _ := setupServer(t)
	conn := dial(t, ts)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublishDrainBroadcasts(t *testing.T) {
	server, handler, ts, _ := setupServer(t)
	conn := dial(t, ts)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	report := daemon.DrainReport{Processed: []string{"a.md", "b.md"}, Failed: []string{"c.md"}}
	require.NoError(t, handler.Publish(daemon.KindQueueDrain, report))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeQueueDrain, msg.Type)
	var got daemon.DrainReport
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, report.Processed, got.Processed)
	assert.Equal(t, report.Failed, got.Failed)

	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeStats, msg.Type)
	var stats StatsData
	require.NoError(t, json.Unmarshal(msg.Data, &stats))
	assert.Equal(t, StatsData{Drains: 1, PathsProcessed: 2, PathsFailed: 1}, stats)
}

func TestMultipleClients(t *testing.T) {
	server, handler, ts, _ := setupServer(t)
	first := dial(t, ts)
	second := dial(t, ts)
	readMessage(t, first)
	readMessage(t, second)
	require.Eventually(t, func() bool { return server.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, handler.Publish(daemon.KindOrphanCleanup, daemon.OrphanCleanupData{Orphans: 4}))
	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeOrphanCleanup, msg.Type)
	}
}

func TestHandlerStats(t *testing.T) {
	_, handler, _, _ := setupServer(t)

	require.NoError(t, handler.Publish(daemon.KindSyncComplete, dgsync.Report{Nodes: 5}))
	handler.OnImportComplete(importer.Result{Success: 3, Failed: 1})
	require.NoError(t, handler.Publish(string(MessageTypeImportComplete), importer.RefreshResult{
		Success: 1,
		Failed:  1,
		Errors:  []importer.FileError{{File: "x.md", Err: errors.New("gone")}},
	}))
	require.NoError(t, handler.Publish(daemon.KindOrphanCleanup, daemon.OrphanCleanupData{Orphans: 2}))

	assert.Equal(t, StatsData{
		FullSyncs:    1,
		NodesSynced:  5,
		Imported:     4,
		ImportFailed: 2,
		Orphans:      2,
	}, handler.GetStats())
}

func TestHandlerRejectsUnknownPayload(t *testing.T) {
	_, handler, _, _ := setupServer(t)
	err := handler.Publish("mystery", 42)
	assert.Error(t, err)
	assert.Equal(t, StatsData{}, handler.GetStats())
}

func TestRefreshDataFlattensErrors(t *testing.T) {
	got := refreshData(importer.RefreshResult{
		Success: 2,
		Errors:  []importer.FileError{{File: "a.md", Err: errors.New("boom")}},
	})
	assert.Equal(t, refreshPayload{Success: 2, Errors: []string{"a.md: boom"}}, got)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, ts, _ := setupServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(0), health["clients"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts, m := setupServer(t)
	m.RecordDrain(3, 1)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "dgsync_queue_processed_total 3")
}

func TestRootAndNotFound(t *testing.T) {
	_, _, ts, _ := setupServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0})
	require.NoError(t, server.Start())
	assert.NotEqual(t, ":0", server.GetAddr())
	require.NoError(t, server.Stop())
}
