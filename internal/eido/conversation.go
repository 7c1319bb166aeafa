package eido

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"thalis/internal/provider"
	"thalis/internal/storage"
)

const (
	snapshotMaxFiles    = 20
	snapshotMaxFileSize = 8 << 10
)

var snapshotExts = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true,
	".go": true, ".py": true, ".js": true, ".html": true, ".css": true,
}

// assembleHistory loads the persisted conversation and maps it to provider
// turns. When local mode is on, a read-only workspace snapshot is inserted
// second-to-last (or first, when there are fewer than two turns) so the
// model sees it adjacent to the newest operator input.
func assembleHistory(ctx context.Context, store storage.Store, identity, conversationID string, sess Session) ([]provider.Message, error) {
	msgs, err := store.History(ctx, identity, conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]provider.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := m.Role
		if role != "user" && role != "assistant" && role != "system" {
			role = "user"
		}
		history = append(history, provider.Message{Role: role, Content: m.Content})
	}

	if sess.LocalMode && sess.LocalPath != "" {
		if snap := localSnapshot(sess.LocalPath); snap != "" {
			turn := provider.Message{Role: "user", Content: InternalPrefix + " " + snap}
			if len(history) < 2 {
				history = append([]provider.Message{turn}, history...)
			} else {
				i := len(history) - 1
				history = append(history[:i:i], append([]provider.Message{turn}, history[i:]...)...)
			}
		}
	}
	return history, nil
}

// localSnapshot renders a bounded listing of the workspace's text files.
// Errors yield an empty snapshot; a broken workspace never blocks a turn.
func localSnapshot(root string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Read-only snapshot of local workspace %s:\n", root)

	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if snapshotExts[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if len(paths) == 0 {
		return ""
	}
	sort.Strings(paths)
	if len(paths) > snapshotMaxFiles {
		paths = paths[:snapshotMaxFiles]
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(data) > snapshotMaxFileSize {
			data = data[:snapshotMaxFileSize]
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", rel, string(data))
	}
	return b.String()
}
