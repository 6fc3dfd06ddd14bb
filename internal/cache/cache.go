package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wl-gesso/gesso/internal/errs"
)

// MaxEntries is the MRU index's capacity; the oldest entry is evicted
// once a new one would exceed it.
const MaxEntries = 5

// Entry is one cache index row: an opaque id, the image identity it
// was rendered from, and when it was created.
type Entry struct {
	ID          uint64   `json:"id"`
	Key         ImageKey `json:"key"`
	CreatedSecs int64    `json:"created_secs"`
}

type indexFile struct {
	Entries []Entry `json:"entries"`
}

// Index is the MRU cache index plus the frame-file operations that
// read and write its backing directory. Head of Entries is most
// recently used.
type Index struct {
	mu      sync.Mutex
	baseDir string
	Entries []Entry
}

// Open loads the index from <baseDir>/cache_index.json, tolerating a
// missing or corrupt file by starting empty — a damaged index is a
// cold cache, never a fatal error.
func Open(baseDir string) (*Index, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	idx := &Index{baseDir: baseDir}
	data, err := os.ReadFile(indexPath(baseDir))
	if err != nil {
		return idx, nil
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return idx, nil
	}
	idx.Entries = f.Entries
	return idx, nil
}

func indexPath(baseDir string) string {
	return filepath.Join(baseDir, "cache_index.json")
}

func framesDir(baseDir string, id uint64) string {
	return filepath.Join(baseDir, "frames", fmt.Sprintf("%d", id))
}

func frameFile(baseDir string, id uint64, si, w, h int) string {
	return filepath.Join(framesDir(baseDir, id), fmt.Sprintf("si%d_w%d_h%d.xrgb", si, w, h))
}

// save persists the index atomically (tmp-write, fsync, rename).
func (idx *Index) save() error {
	data, err := json.Marshal(indexFile{Entries: idx.Entries})
	if err != nil {
		return err
	}
	return atomicWrite(indexPath(idx.baseDir), data)
}

// Find returns the id of the entry whose key structurally equals key.
func (idx *Index) Find(key ImageKey) (uint64, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range idx.Entries {
		if e.Key.Equal(key) {
			return e.ID, true
		}
	}
	return 0, false
}

// Record finds or creates the cache entry for key, moving it to the
// MRU head, pruning the index to MaxEntries, and persisting it. It
// returns the entry's id.
func (idx *Index) Record(key ImageKey) (uint64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now()
	for i, e := range idx.Entries {
		if e.Key.Equal(key) {
			e.CreatedSecs = now.Unix()
			idx.Entries = append(idx.Entries[:i], idx.Entries[i+1:]...)
			idx.Entries = append([]Entry{e}, idx.Entries...)
			if err := idx.save(); err != nil {
				return 0, err
			}
			return e.ID, nil
		}
	}

	id := uint64(now.UnixNano())
	entry := Entry{ID: id, Key: key, CreatedSecs: now.Unix()}
	idx.Entries = append([]Entry{entry}, idx.Entries...)

	var evicted []Entry
	for len(idx.Entries) > MaxEntries {
		n := len(idx.Entries)
		evicted = append(evicted, idx.Entries[n-1])
		idx.Entries = idx.Entries[:n-1]
	}
	if err := idx.save(); err != nil {
		return 0, err
	}
	for _, e := range evicted {
		_ = os.RemoveAll(framesDir(idx.baseDir, e.ID))
	}
	return id, nil
}

// Load reads a rendered frame for (id, si, w, h), reporting ok=false
// on any read error or if the file size doesn't match w*h*4 exactly —
// corruption is always treated as a miss, never surfaced as an error.
func (idx *Index) Load(id uint64, si, w, h int) ([]uint32, bool) {
	data, err := os.ReadFile(frameFile(idx.baseDir, id, si, w, h))
	if err != nil {
		return nil, false
	}
	want := w * h * 4
	if len(data) != want {
		return nil, false
	}
	out := make([]uint32, w*h)
	for i := range out {
		out[i] = nativeEndianUint32(data[i*4 : i*4+4])
	}
	return out, true
}

// Store writes a rendered frame for (id, si, w, h), creating the
// entry directory on demand and writing atomically.
func (idx *Index) Store(id uint64, si, w, h int, frame []uint32) error {
	if len(frame) != w*h {
		return errs.New(errs.CacheCorruption, "frame length does not match w*h")
	}
	dir := framesDir(idx.baseDir, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data := make([]byte, w*h*4)
	for i, px := range frame {
		putNativeEndianUint32(data[i*4:i*4+4], px)
	}
	return atomicWrite(frameFile(idx.baseDir, id, si, w, h), data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
