package server

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/pyserve/pyserve/pkg/markup"
)

// documentCache caches the extracted segments of .pys documents.
// Entries are keyed by path and invalidated when the file's modification
// time or size changes. In dev mode, caching is disabled and documents are
// always read and extracted from disk.
type documentCache struct {
	mu       sync.RWMutex
	entries  map[string]*documentEntry
	disabled bool
}

type documentEntry struct {
	modTime  time.Time
	size     int64
	segments []markup.Segment
}

func newDocumentCache(disabled bool) *documentCache {
	return &documentCache{
		entries:  make(map[string]*documentEntry),
		disabled: disabled,
	}
}

// get returns the segments of the document at path, decoded from encoding.
func (c *documentCache) get(path, encoding string) ([]markup.Segment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !c.disabled {
		c.mu.RLock()
		entry, ok := c.entries[path]
		c.mu.RUnlock()
		if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
			return entry.segments, nil
		}
	}

	text, err := ReadDocument(path, encoding)
	if err != nil {
		return nil, err
	}
	segments := markup.Extract(text)

	if !c.disabled {
		c.mu.Lock()
		c.entries[path] = &documentEntry{
			modTime:  info.ModTime(),
			size:     info.Size(),
			segments: segments,
		}
		c.mu.Unlock()
	}
	return segments, nil
}

// clear removes all cached documents (for hot reload)
func (c *documentCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]*documentEntry)
	c.mu.Unlock()
}

// size returns the number of cached documents.
func (c *documentCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ReadDocument reads a file and decodes it to UTF-8 text. A byte order mark
// overrides the configured encoding.
func ReadDocument(path, encoding string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeText(data, encoding)
}

func decodeText(data []byte, encoding string) (string, error) {
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", encoding, err)
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(enc.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("decoding as %s: %w", encoding, err)
	}
	return string(decoded), nil
}
