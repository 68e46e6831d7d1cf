package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/security"
)

const (
	fileName   = "checkpoint.json"
	backupName = fileName + ".bak"
)

// FileStore implements core.CheckpointStore on the local filesystem.
type FileStore struct {
	root   string
	logger *slog.Logger
}

var _ core.CheckpointStore = (*FileStore)(nil)

// Option configures a FileStore.
type Option interface {
	apply(*FileStore)
}

type optionFunc func(*FileStore)

func (f optionFunc) apply(s *FileStore) { f(s) }

// WithLogger sets the logger used for corruption warnings.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *FileStore) {
		s.logger = l
	})
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{root: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// Dir returns the job-scoped directory holding the checkpoint files.
func (s *FileStore) Dir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// Save atomically replaces the job's checkpoint, keeping the previous version
// as a .bak sibling.
func (s *FileStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	if err := security.ValidateJobID(cp.JobID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := *cp
	if doc.CompletedTasks == nil {
		doc.CompletedTasks = []string{}
	}
	if doc.TaskOutputs == nil {
		doc.TaskOutputs = map[string]string{}
	}
	if doc.SavedAt.IsZero() {
		doc.SavedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := s.Dir(cp.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}

	current := filepath.Join(dir, fileName)
	if err := os.Rename(current, filepath.Join(dir, backupName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = os.Remove(tmp)
		return fmt.Errorf("rotate checkpoint backup: %w", err)
	}
	if err := os.Rename(tmp, current); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return syncDir(dir)
}

// Load returns the job's checkpoint. A corrupt checkpoint is logged and
// reported as not found. When only the backup exists, because a save was
// interrupted between its two renames, the backup is returned.
func (s *FileStore) Load(ctx context.Context, jobID string) (*core.Checkpoint, bool, error) {
	if err := security.ValidateJobID(jobID); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	dir := s.Dir(jobID)
	path := filepath.Join(dir, fileName)
	cp, err := readCheckpoint(path)
	if errors.Is(err, fs.ErrNotExist) {
		path = filepath.Join(dir, backupName)
		cp, err = readCheckpoint(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		if err == nil {
			s.logger.Info("recovered checkpoint from backup", "job_id", jobID)
		}
	}
	if err != nil {
		corrupt := &core.CheckpointCorruptionError{JobID: jobID, Path: path, Err: err}
		s.logger.Warn("checkpoint unreadable, starting over", "job_id", jobID, "error", corrupt)
		return nil, false, nil
	}

	if cp.JobID == "" {
		cp.JobID = jobID
	}
	if cp.JobID != jobID {
		s.logger.Warn("checkpoint belongs to another job, starting over",
			"job_id", jobID, "checkpoint_job_id", cp.JobID)
		return nil, false, nil
	}
	return cp, true, nil
}

// Clear removes the checkpoint and its backup.
func (s *FileStore) Clear(ctx context.Context, jobID string) error {
	if err := security.ValidateJobID(jobID); err != nil {
		return err
	}
	dir := s.Dir(jobID)
	for _, name := range []string{fileName, backupName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove checkpoint: %w", err)
		}
	}
	return nil
}

func readCheckpoint(path string) (*core.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp core.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if cp.TaskOutputs == nil {
		cp.TaskOutputs = map[string]string{}
	}
	return &cp, nil
}

func writeTemp(dir string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, fileName+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp checkpoint: %w", err)
	}
	name := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(name)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp checkpoint: %w", err)
	}
	committed = true
	return name, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	// Some filesystems do not support fsync on directories.
	_ = f.Sync()
	return nil
}
