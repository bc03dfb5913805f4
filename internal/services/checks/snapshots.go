package checks

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
)

// SnapshotStore owns the on-disk snapshot tree:
//
//	<root>/<host_slug>/<website_id>/baseline/baseline_<page_slug>.png
//	<root>/<host_slug>/<website_id>/visual/<ts>_<page_slug>.png
//	<root>/<host_slug>/<website_id>/diffs/<ts>_<page_slug>.png
//	<root>/<host_slug>/<website_id>/blur_images/<hash>.png
//
// All paths handed out are relative to the root so database rows and report
// links survive a data directory move. Writes land on a temp name first and
// are renamed into place.
type SnapshotStore struct {
	root   string
	logger arbor.ILogger
}

func NewSnapshotStore(root string, logger arbor.ILogger) *SnapshotStore {
	return &SnapshotStore{root: root, logger: logger}
}

// Root returns the absolute snapshot root directory.
func (s *SnapshotStore) Root() string {
	return s.root
}

// WriteBaseline stores the reference snapshot for a page, replacing any
// prior baseline at the same slot.
func (s *SnapshotStore) WriteBaseline(website *models.Website, pageURL string, png []byte) (string, error) {
	name := fmt.Sprintf("baseline_%s.png", common.PageSlug(pageURL))
	return s.write(website, "baseline", name, png)
}

// WriteVisual stores a current snapshot captured during a comparison run.
func (s *SnapshotStore) WriteVisual(website *models.Website, pageURL string, ts time.Time, png []byte) (string, error) {
	name := fmt.Sprintf("%s_%s.png", common.TimestampSlug(ts), common.PageSlug(pageURL))
	return s.write(website, "visual", name, png)
}

// WriteDiff stores the highlighted difference image for a changed page.
func (s *SnapshotStore) WriteDiff(website *models.Website, pageURL string, ts time.Time, png []byte) (string, error) {
	name := fmt.Sprintf("%s_%s.png", common.TimestampSlug(ts), common.PageSlug(pageURL))
	return s.write(website, "diffs", name, png)
}

// WriteBlurImage stores a downloaded image under its content hash.
func (s *SnapshotStore) WriteBlurImage(website *models.Website, hash string, data []byte) (string, error) {
	return s.write(website, "blur_images", hash+".png", data)
}

// Read returns the bytes of a previously written snapshot by its relative
// path.
func (s *SnapshotStore) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", relPath, err)
	}
	return data, nil
}

// RemoveWebsiteTree deletes every snapshot directory belonging to a website,
// across all host slugs in case the site URL changed over its lifetime.
// Idempotent.
func (s *SnapshotStore) RemoveWebsiteTree(websiteID string) error {
	if websiteID == "" {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(s.root, "*", websiteID))
	if err != nil {
		return fmt.Errorf("failed to locate snapshot tree: %w", err)
	}

	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove snapshot tree %s: %w", dir, err)
		}
		s.logger.Debug().
			Str("website_id", websiteID).
			Str("path", dir).
			Msg("Snapshot tree removed")

		// Drop the host directory too once it is empty.
		host := filepath.Dir(dir)
		if entries, readErr := os.ReadDir(host); readErr == nil && len(entries) == 0 {
			_ = os.Remove(host)
		}
	}

	return nil
}

// write persists one file under the website's tree and returns its path
// relative to the snapshot root.
func (s *SnapshotStore) write(website *models.Website, category, name string, data []byte) (string, error) {
	relDir := filepath.Join(common.HostSlug(website.URL), website.ID, category)
	dir := filepath.Join(s.root, relDir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	return filepath.ToSlash(filepath.Join(relDir, name)), nil
}
