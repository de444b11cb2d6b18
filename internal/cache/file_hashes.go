// Package cache tracks per-file content hashes so the indexer can skip
// files that have not changed since their last successful index run.
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileHash is the last-known hash of a single indexed file.
type FileHash struct {
	Path        string    `json:"path"`
	Hash        string    `json:"hash"`
	LastIndexed time.Time `json:"last_indexed"`
	ChunkCount  int       `json:"chunk_count"`
}

// FileHashCache is the on-disk form of one repository's hash table.
type FileHashCache struct {
	RepoPath  string              `json:"repo_path"`
	Hashes    map[string]FileHash `json:"hashes"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// FileHashManager manages file hashes for incremental indexing.
// Thread-safe: all operations are protected by a mutex for concurrent access.
type FileHashManager struct {
	cacheDir string
	cache    *FileHashCache
	mux      sync.RWMutex
}

// NewFileHashManager creates a new file hash manager.
func NewFileHashManager(cacheDir string) (*FileHashManager, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileHashManager{
		cacheDir: cacheDir,
	}, nil
}

// Load loads the file hash cache for a repository.
func (fhm *FileHashManager) Load(repoPath string) error {
	fhm.mux.Lock()
	defer fhm.mux.Unlock()

	cachePath := fhm.getCachePath(repoPath)

	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		fhm.cache = &FileHashCache{
			RepoPath:  repoPath,
			Hashes:    make(map[string]FileHash),
			UpdatedAt: time.Now(),
		}
		return nil
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var loaded FileHashCache
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}

	fhm.cache = &loaded
	return nil
}

// Save persists the currently loaded cache.
func (fhm *FileHashManager) Save() error {
	fhm.mux.RLock()
	if fhm.cache == nil {
		fhm.mux.RUnlock()
		return fmt.Errorf("no cache loaded")
	}

	cacheCopy := *fhm.cache
	cacheCopy.Hashes = make(map[string]FileHash, len(fhm.cache.Hashes))
	for k, v := range fhm.cache.Hashes {
		cacheCopy.Hashes[k] = v
	}
	fhm.mux.RUnlock()

	cacheCopy.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(cacheCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	cachePath := fhm.getCachePath(cacheCopy.RepoPath)
	if err := os.WriteFile(cachePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	return nil
}

// NeedsReindex returns true if a file's content hash differs from the
// cached one, or it has never been indexed.
func (fhm *FileHashManager) NeedsReindex(filePath string) (bool, error) {
	fhm.mux.RLock()
	if fhm.cache == nil {
		fhm.mux.RUnlock()
		return true, nil
	}
	fhm.mux.RUnlock()

	currentHash, err := computeFileHash(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to compute file hash: %w", err)
	}

	fhm.mux.RLock()
	defer fhm.mux.RUnlock()

	if fhm.cache == nil {
		return true, nil
	}

	cached, exists := fhm.cache.Hashes[filePath]
	if !exists {
		return true, nil
	}

	return cached.Hash != currentHash, nil
}

// Update records the current hash of a file after a successful index.
func (fhm *FileHashManager) Update(filePath string, chunkCount int) error {
	hash, err := computeFileHash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute file hash: %w", err)
	}

	fhm.mux.Lock()
	defer fhm.mux.Unlock()

	if fhm.cache == nil {
		return fmt.Errorf("no cache loaded")
	}

	fhm.cache.Hashes[filePath] = FileHash{
		Path:        filePath,
		Hash:        hash,
		LastIndexed: time.Now(),
		ChunkCount:  chunkCount,
	}

	return nil
}

// Remove drops a file from the cache, used when unindexing.
func (fhm *FileHashManager) Remove(filePath string) {
	fhm.mux.Lock()
	defer fhm.mux.Unlock()

	if fhm.cache != nil {
		delete(fhm.cache.Hashes, filePath)
	}
}

// GetStats returns summary statistics about the loaded cache.
func (fhm *FileHashManager) GetStats() map[string]interface{} {
	fhm.mux.RLock()
	defer fhm.mux.RUnlock()

	if fhm.cache == nil {
		return map[string]interface{}{
			"total_files":  0,
			"total_chunks": 0,
		}
	}

	totalChunks := 0
	for _, hash := range fhm.cache.Hashes {
		totalChunks += hash.ChunkCount
	}

	return map[string]interface{}{
		"total_files":  len(fhm.cache.Hashes),
		"total_chunks": totalChunks,
		"updated_at":   fhm.cache.UpdatedAt,
	}
}

// Clear removes a repository's cache file and resets in-memory state.
func (fhm *FileHashManager) Clear(repoPath string) error {
	fhm.mux.Lock()
	defer fhm.mux.Unlock()

	cachePath := fhm.getCachePath(repoPath)
	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}

	fhm.cache = &FileHashCache{
		RepoPath:  repoPath,
		Hashes:    make(map[string]FileHash),
		UpdatedAt: time.Now(),
	}

	return nil
}

func (fhm *FileHashManager) getCachePath(repoPath string) string {
	hash := sha256.Sum256([]byte(repoPath))
	filename := fmt.Sprintf("file-hashes-%x.json", hash[:8])
	return filepath.Join(fhm.cacheDir, filename)
}

func computeFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
