package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/quotacycle/internal/domain/model/cycle"
)

// LocalStatusGateway implements StatusGateway on a filesystem
// Directory structure: <baseDir>/status/<name>.json
type LocalStatusGateway struct {
	fs      afero.Fs
	baseDir string // Base directory (e.g., ~/.quotacycle)
}

// NewLocalStatusGateway creates a new filesystem-based status gateway
func NewLocalStatusGateway(fs afero.Fs, baseDir string) (*LocalStatusGateway, error) {
	statusDir := filepath.Join(baseDir, "status")
	if err := fs.MkdirAll(statusDir, 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}
	return &LocalStatusGateway{fs: fs, baseDir: baseDir}, nil
}

// Publish atomically replaces the workflow's status file
func (g *LocalStatusGateway) Publish(ctx context.Context, snap cycle.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return writeFileAtomic(g.fs, g.path(snap.Name), append(data, '\n'))
}

// Latest reads the workflow's status file, or nil if it does not exist
func (g *LocalStatusGateway) Latest(ctx context.Context, workflowName string) (*cycle.Snapshot, error) {
	data, err := afero.ReadFile(g.fs, g.path(workflowName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status file: %w", err)
	}

	var snap cycle.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// List returns the workflow names with a status file, sorted
func (g *LocalStatusGateway) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(g.fs, filepath.Join(g.baseDir, "status"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (g *LocalStatusGateway) path(name string) string {
	return filepath.Join(g.baseDir, "status", name+".json")
}

// writeFileAtomic writes data to a file atomically using temp file + rename
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Temp file in the same directory so the rename stays on one filesystem
	tmpFile, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer fs.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}
