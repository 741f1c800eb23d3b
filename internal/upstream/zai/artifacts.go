package zai

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ArtifactStore keeps locally generated audio files under one directory
// and caps how many survive. Retention <= 0 disables pruning.
type ArtifactStore struct {
	dir  string
	keep int
}

func NewArtifactStore(dir string, keep int) *ArtifactStore {
	return &ArtifactStore{dir: dir, keep: keep}
}

func (s *ArtifactStore) Dir() string { return s.dir }

// Save writes one artifact and prunes the directory afterwards. The
// returned path is relative to nothing in particular, it is the on-disk
// location handlers expose for download.
func (s *ArtifactStore) Save(ext string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("zai: create artifact dir: %w", err)
	}
	name := fmt.Sprintf("tts-%d-%s%s", time.Now().Unix(), uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("zai: write artifact: %w", err)
	}
	if err := s.Prune(); err != nil {
		log.WithError(err).WithField("dir", s.dir).Warn("artifact prune failed")
	}
	return path, nil
}

// Prune removes the oldest files beyond the retention count. Called on
// startup and after each generation.
func (s *ArtifactStore) Prune() error {
	if s.keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type artifact struct {
		name string
		mod  time.Time
	}
	files := make([]artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, artifact{name: e.Name(), mod: info.ModTime()})
	}
	if len(files) <= s.keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	for _, f := range files[s.keep:] {
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			log.WithError(err).WithField("file", f.name).Warn("artifact remove failed")
		}
	}
	return nil
}
