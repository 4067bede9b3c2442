package dashboard

import (
	"fmt"
	"sync"

	"github.com/discoursegraphs/dgsync/internal/daemon"
	"github.com/discoursegraphs/dgsync/internal/importer"
	"github.com/discoursegraphs/dgsync/internal/logging"
	dgsync "github.com/discoursegraphs/dgsync/internal/sync"
)

// StatsData contains running totals since the process started
type StatsData struct {
	Drains         int `json:"drains"`
	PathsProcessed int `json:"paths_processed"`
	PathsFailed    int `json:"paths_failed"`
	FullSyncs      int `json:"full_syncs"`
	NodesSynced    int `json:"nodes_synced"`
	Imported       int `json:"imported"`
	ImportFailed   int `json:"import_failed"`
	Orphans        int `json:"orphans"`
}

// Handler turns daemon and importer events into dashboard messages and
// keeps the totals new clients are welcomed with. It satisfies
// daemon.Publisher.
type Handler struct {
	server *Server
	logger *logging.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *logging.Logger) *Handler {
	h := &Handler{
		server: server,
		logger: logging.OrNop(logger).Named("dashboard"),
	}
	server.stats = h.GetStats
	return h
}

// Publish records an event and broadcasts it. Kinds are the daemon's
// message kinds plus import_complete.
func (h *Handler) Publish(kind string, data any) error {
	h.mu.Lock()
	switch v := data.(type) {
	case daemon.DrainReport:
		h.stats.Drains++
		h.stats.PathsProcessed += len(v.Processed)
		h.stats.PathsFailed += len(v.Failed)
	case dgsync.Report:
		h.stats.FullSyncs++
		h.stats.NodesSynced += v.Nodes
	case importer.Result:
		h.stats.Imported += v.Success
		h.stats.ImportFailed += v.Failed
	case importer.RefreshResult:
		h.stats.Imported += v.Success
		h.stats.ImportFailed += v.Failed
		data = refreshData(v)
	case daemon.OrphanCleanupData:
		h.stats.Orphans += v.Orphans
	default:
		h.mu.Unlock()
		return fmt.Errorf("unsupported %s payload %T", kind, data)
	}
	stats := h.stats
	h.mu.Unlock()

	if err := h.server.Send(MessageType(kind), data); err != nil {
		return err
	}
	return h.server.Send(MessageTypeStats, stats)
}

// OnImportComplete publishes the outcome of an import.
func (h *Handler) OnImportComplete(r importer.Result) {
	if err := h.Publish(string(MessageTypeImportComplete), r); err != nil {
		h.logger.Warn("Failed to publish import", "error", err)
	}
}

// GetStats returns a copy of the running totals
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

type refreshPayload struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// refreshData flattens the error values, which do not marshal.
func refreshData(r importer.RefreshResult) refreshPayload {
	out := refreshPayload{Success: r.Success, Failed: r.Failed}
	for _, e := range r.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	return out
}
