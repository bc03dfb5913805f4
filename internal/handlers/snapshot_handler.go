package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/services/checks"
)

// SnapshotHandler serves snapshot images written by the check engine:
// baselines, visual captures, diff overlays and blur crops.
type SnapshotHandler struct {
	snapshots *checks.SnapshotStore
	logger    arbor.ILogger
}

// NewSnapshotHandler creates a new SnapshotHandler
func NewSnapshotHandler(snapshots *checks.SnapshotStore) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots: snapshots,
		logger:    common.GetLogger(),
	}
}

// ServeSnapshotHandler handles GET /snapshots/{path}. Paths are relative to
// the snapshot root and must not escape it.
func (h *SnapshotHandler) ServeSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/snapshots/")
	if rel == "" || strings.Contains(rel, "..") {
		http.NotFound(w, r)
		return
	}

	// Normalize so the join below cannot step outside the root.
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" || rel == "." {
		http.NotFound(w, r)
		return
	}

	filePath := filepath.Join(h.snapshots.Root(), filepath.FromSlash(rel))
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	switch filepath.Ext(filePath) {
	case ".png":
		w.Header().Set("Content-Type", "image/png")
	case ".jpg", ".jpeg":
		w.Header().Set("Content-Type", "image/jpeg")
	}

	http.ServeFile(w, r, filePath)
}
