package pdf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"pdf-page-translator/internal/logger"
)

const (
	// CheckpointFileName is the checkpoint's name inside the work directory.
	CheckpointFileName = "checkpoint.json"
	checkpointVersion  = "1.0"
	lockFileName       = ".pagetrans.lock"
)

// Checkpoint records which pages of a run are finished so an interrupted run
// can resume without translating them again. An entry only counts while its
// source text is unchanged and its rendered document still exists.
type Checkpoint struct {
	path       string
	runID      string
	sourcePath string
	entries    map[int]CheckpointEntry // page -> entry
	mu         sync.RWMutex
	// saveMu keeps concurrent saves from replacing a newer file with an older snapshot
	saveMu sync.Mutex
}

// NewCheckpoint creates an empty checkpoint stored in workDir.
func NewCheckpoint(workDir, sourcePath string) *Checkpoint {
	return &Checkpoint{
		path:       filepath.Join(workDir, CheckpointFileName),
		runID:      uuid.NewString(),
		sourcePath: sourcePath,
		entries:    make(map[int]CheckpointEntry),
	}
}

// HashText 计算页面原文哈希（SHA256）
func HashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// Load reads the checkpoint from disk. A missing file is not an error. A
// checkpoint written for a different source document is discarded.
func (c *Checkpoint) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return NewPDFErrorWithDetails(ErrCacheFailed, "failed to read checkpoint", c.path, err)
	}

	var file CheckpointFile
	if err := json.Unmarshal(data, &file); err != nil {
		return NewPDFErrorWithDetails(ErrCacheFailed, "failed to parse checkpoint", c.path, err)
	}

	if file.SourcePath != "" && c.sourcePath != "" && !samePath(file.SourcePath, c.sourcePath) {
		logger.Warn("checkpoint belongs to another document, ignoring it",
			logger.String("checkpoint", file.SourcePath),
			logger.String("source", c.sourcePath))
		return nil
	}

	c.entries = make(map[int]CheckpointEntry, len(file.Entries))
	for _, entry := range file.Entries {
		c.entries[entry.Page] = entry
	}
	if file.RunID != "" {
		c.runID = file.RunID
	}
	if c.sourcePath == "" {
		c.sourcePath = file.SourcePath
	}
	return nil
}

// Save writes the checkpoint to disk.
func (c *Checkpoint) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	entries := make([]CheckpointEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	file := CheckpointFile{
		Version:    checkpointVersion,
		RunID:      c.runID,
		SourcePath: c.sourcePath,
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Page < entries[j].Page })
	file.Entries = entries

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return NewPDFError(ErrCacheFailed, "failed to marshal checkpoint", err)
	}
	if err := writeFileAtomic(c.path, data); err != nil {
		return NewPDFErrorWithDetails(ErrCacheFailed, "failed to write checkpoint", c.path, err)
	}
	return nil
}

// Mark records page as complete and persists the checkpoint.
func (c *Checkpoint) Mark(page int, sourceText, translation, renderedPath string) error {
	c.mu.Lock()
	c.entries[page] = CheckpointEntry{
		Page:         page,
		SourceHash:   HashText(sourceText),
		Translation:  translation,
		RenderedPath: renderedPath,
		CompletedAt:  time.Now().UTC(),
	}
	c.mu.Unlock()
	return c.Save()
}

// Get returns the entry for page, if recorded.
func (c *Checkpoint) Get(page int) (CheckpointEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[page]
	return entry, ok
}

// IsComplete reports whether page is finished for the given source text.
func (c *Checkpoint) IsComplete(page int, sourceText string) bool {
	entry, ok := c.Get(page)
	if !ok || entry.SourceHash != HashText(sourceText) {
		return false
	}
	if _, err := os.Stat(entry.RenderedPath); err != nil {
		return false
	}
	return true
}

// Completed returns the recorded page numbers in ascending order.
func (c *Checkpoint) Completed() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pages := make([]int, 0, len(c.entries))
	for page := range c.entries {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// RunID identifies the run that created the checkpoint.
func (c *Checkpoint) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// SourcePath returns the document the checkpoint was written for.
func (c *Checkpoint) SourcePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sourcePath
}

// Path returns the checkpoint file path.
func (c *Checkpoint) Path() string {
	return c.path
}

// ReadCheckpoint loads the checkpoint in workDir without tying it to a source.
func ReadCheckpoint(workDir string) (*Checkpoint, error) {
	c := NewCheckpoint(workDir, "")
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// WorkDirLock guards a work directory against concurrent runs.
type WorkDirLock struct {
	fl *flock.Flock
}

// LockWorkDir takes an exclusive lock on workDir, creating it if needed. It
// fails immediately if another run holds the lock.
func LockWorkDir(workDir string) (*WorkDirLock, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, NewPDFErrorWithDetails(ErrCacheFailed, "cannot create work directory", workDir, err)
	}
	fl := flock.New(filepath.Join(workDir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, NewPDFErrorWithDetails(ErrCacheFailed, "cannot lock work directory", workDir, err)
	}
	if !locked {
		return nil, NewPDFErrorWithDetails(ErrCacheFailed, "work directory is in use by another run", workDir, nil)
	}
	return &WorkDirLock{fl: fl}, nil
}

// Unlock releases the lock.
func (l *WorkDirLock) Unlock() error {
	return l.fl.Unlock()
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
