package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/parsing"
	"github.com/jamaly87/codebase-rag-core/pkg/config"
	"github.com/jamaly87/codebase-rag-core/pkg/ignore"
)

// Scanner walks a repository directory for files the parser can handle.
type Scanner struct {
	config           *config.IndexingConfig
	ignoreMatcher    *ignore.Matcher
	maxFileSizeBytes int64
}

// NewScanner creates a new file scanner.
func NewScanner(cfg *config.IndexingConfig, ignorePatterns []string) *Scanner {
	return &Scanner{
		config:           cfg,
		ignoreMatcher:    ignore.NewMatcher(ignorePatterns),
		maxFileSizeBytes: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}
}

// ScanResult contains the results of a directory scan.
type ScanResult struct {
	Files        []string
	TotalFiles   int
	SkippedFiles int
	Languages    map[models.Language]int
	Errors       []error
}

// Scan walks a repository directory for indexable files.
func (s *Scanner) Scan(repoPath string) (*ScanResult, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat repo path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo path is not a directory: %s", repoPath)
	}

	result := &ScanResult{
		Files:     make([]string, 0),
		Languages: make(map[models.Language]int),
		Errors:    make([]error, 0),
	}

	err = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil
		}

		relPath, err := filepath.Rel(repoPath, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			if s.shouldIgnoreDir(relPath, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		if s.ignoreMatcher.ShouldIgnore(relPath) {
			result.SkippedFiles++
			return nil
		}

		result.TotalFiles++

		if !s.IsSupported(path) {
			result.SkippedFiles++
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to get file info for %s: %w", path, err))
			result.SkippedFiles++
			return nil
		}

		if fileInfo.Size() > s.maxFileSizeBytes {
			result.SkippedFiles++
			return nil
		}

		result.Files = append(result.Files, path)
		result.Languages[parsing.DetectLanguage(path)]++

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return result, nil
}

func (s *Scanner) shouldIgnoreDir(relPath, dirName string) bool {
	if strings.HasPrefix(dirName, ".") && dirName != "." {
		return true
	}
	return s.ignoreMatcher.ShouldIgnore(relPath)
}

// IsSupported returns true for languages the scanner indexes by default.
func (s *Scanner) IsSupported(filePath string) bool {
	switch parsing.DetectLanguage(filePath) {
	case models.LanguageJava, models.LanguageTypeScript, models.LanguageJavaScript, models.LanguageGo:
		return true
	default:
		return false
	}
}
