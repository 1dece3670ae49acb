package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// cacheEntry is the persisted form of a cached completion.
type cacheEntry struct {
	DocumentID string    `json:"document_id"`
	Operation  Operation `json:"operation"`
	Text       string    `json:"text"`
}

// Cache stores completion results keyed by document, operation, model, and
// prompt content. Entries live in memory and spill to one JSON file each so
// cached analyses survive restarts. Keys are prefixed with the document id,
// which is what makes per-document invalidation a prefix scan.
type Cache struct {
	mu      sync.RWMutex
	dir     string
	entries map[string]cacheEntry
}

// NewCache creates a cache backed by dir, loading any entries persisted by a
// previous run. Unreadable entry files are skipped rather than failing open.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	c := &Cache{dir: dir, entries: make(map[string]cacheEntry)}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		c.entries[strings.TrimSuffix(f.Name(), ".json")] = entry
	}
	return c, nil
}

// Key derives the cache key for a completion request. The prompt is
// whitespace-normalized first so formatting differences do not defeat hits.
func Key(req CompletionRequest, model string) string {
	normalized := strings.Join(strings.Fields(req.System+"\n"+req.Prompt), " ")
	sum := sha256.Sum256([]byte(string(req.Operation) + "|" + model + "|" + normalized))
	return req.DocumentID + "_" + hex.EncodeToString(sum[:16])
}

// Get returns the cached text for a key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry.Text, ok
}

// Put stores a completion result and persists it. Persistence failures are
// returned but the in-memory entry stays usable.
func (c *Cache) Put(key string, req CompletionRequest, text string) error {
	entry := cacheEntry{DocumentID: req.DocumentID, Operation: req.Operation, Text: text}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to persist cache entry: %w", err)
	}
	return nil
}

// InvalidateDocument removes every entry belonging to a document. Called on
// document deletion and before reprocessing so stale analyses never resurface.
func (c *Cache) InvalidateDocument(documentID string) int {
	if documentID == "" {
		return 0
	}
	prefix := documentID + "_"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			os.Remove(filepath.Join(c.dir, key+".json"))
			removed++
		}
	}
	return removed
}

// Clear drops all entries, memory and disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		delete(c.entries, key)
		if err := os.Remove(filepath.Join(c.dir, key+".json")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove cache entry: %w", err)
		}
	}
	return nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
