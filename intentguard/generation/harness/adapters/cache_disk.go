package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ports "github.com/ZanzyTHEbar/intentguard/intentguard/generation/harness/ports"
	"github.com/rs/zerolog"
)

const tempMarker = ".tmp-"

// DiskCache stores one JSON file per key under a root directory. Entries never expire.
// Concurrent writers of the same key are last-writer-wins; readers never observe a
// partially written file.
type DiskCache struct {
	root   string
	logger zerolog.Logger
}

// CacheStats summarizes a DiskCache's contents.
type CacheStats struct {
	Entries int
	Bytes   int64
}

// diskEntry distinguishes a missing result field from false.
type diskEntry struct {
	Result      *bool  `json:"result"`
	Explanation string `json:"explanation"`
}

// NewDiskCache creates a cache rooted at dir. The directory is created on first write.
func NewDiskCache(dir string, logger zerolog.Logger) *DiskCache {
	return &DiskCache{
		root:   dir,
		logger: logger.With().Str("component", "disk_cache").Str("root", dir).Logger(),
	}
}

// Root returns the cache directory.
func (c *DiskCache) Root() string { return c.root }

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." &&
		!strings.ContainsAny(key, `/\`) && !strings.Contains(key, tempMarker)
}

// Get reports a miss for absent, unreadable or corrupt entries.
func (c *DiskCache) Get(ctx context.Context, key string) (ports.ConsensusResult, bool) {
	if !validKey(key) {
		return ports.ConsensusResult{}, false
	}

	data, err := os.ReadFile(filepath.Join(c.root, key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug().Err(err).Str("key", key).Msg("unreadable cache entry treated as miss")
		}
		return ports.ConsensusResult{}, false
	}

	var entry diskEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Result == nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("corrupt cache entry treated as miss")
		return ports.ConsensusResult{}, false
	}

	return ports.ConsensusResult{Result: *entry.Result, Explanation: entry.Explanation}, true
}

// Put writes value under key through a temp file and rename.
func (c *DiskCache) Put(ctx context.Context, key string, value ports.ConsensusResult) error {
	if !validKey(key) {
		return fmt.Errorf("invalid cache key %q", key)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.root, key+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("create cache entry: %w", err)
	}
	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(c.root, key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Stats counts committed entries and their size.
func (c *DiskCache) Stats() (CacheStats, error) {
	var stats CacheStats
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, err
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !validKey(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Entries++
		stats.Bytes += info.Size()
	}
	return stats, nil
}

// Clear removes every entry and leftover temp file, returning how many entries were
// removed. Other files in the directory are left alone.
func (c *DiskCache) Clear() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() {
			continue
		}
		committed := validKey(name)
		if !committed && !strings.Contains(name, tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(c.root, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		if committed {
			removed++
		}
	}

	c.logger.Info().Int("removed", removed).Msg("cache cleared")
	return removed, errors.Join(errs...)
}

// Ensure DiskCache implements the Cache interface.
var _ ports.Cache = (*DiskCache)(nil)
