package parsing

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/tokenize"
)

// boundaryPattern pairs a regex that detects a function/class boundary
// with the chunk kind it implies.
type boundaryPattern struct {
	re   *regexp.Regexp
	kind models.ChunkKind
}

var languagePatterns = map[models.Language][]boundaryPattern{
	models.LanguagePython: {
		{regexp.MustCompile(`^\s*class\s+(\w+)`), models.ChunkKindClass},
		{regexp.MustCompile(`^\s*(async\s+)?def\s+(\w+)`), models.ChunkKindMethod},
	},
	models.LanguageJavaScript: {
		{regexp.MustCompile(`^\s*(export\s+)?(default\s+)?class\s+(\w+)`), models.ChunkKindClass},
		{regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(async\s+)?function\s+(\w+)`), models.ChunkKindMethod},
	},
	models.LanguageTypeScript: {
		{regexp.MustCompile(`^\s*(export\s+)?(default\s+)?class\s+(\w+)`), models.ChunkKindClass},
		{regexp.MustCompile(`^\s*(export\s+)?(default\s+)?interface\s+(\w+)`), models.ChunkKindClass},
		{regexp.MustCompile(`^\s*(export\s+)?(default\s+)?(async\s+)?function\s+(\w+)`), models.ChunkKindMethod},
	},
	models.LanguageGo: {
		{regexp.MustCompile(`^\s*type\s+(\w+)\s+(struct|interface)`), models.ChunkKindClass},
		{regexp.MustCompile(`^\s*func\s+(\([^)]*\)\s*)?(\w+)`), models.ChunkKindMethod},
	},
}

var defaultPatterns = []boundaryPattern{
	{regexp.MustCompile(`^\s*class\s+(\w+)`), models.ChunkKindClass},
	{regexp.MustCompile(`^\s*function\s+(\w+)`), models.ChunkKindMethod},
	{regexp.MustCompile(`^\s*def\s+(\w+)`), models.ChunkKindMethod},
}

// FallbackParser splits non-Java source into units at lines matching an
// identifier-boundary regex; indentation is not considered. This is
// acceptable because classpath normalization is a no-op for non-Java
// queries.
type FallbackParser struct{}

// NewFallbackParser builds a FallbackParser.
func NewFallbackParser() *FallbackParser {
	return &FallbackParser{}
}

// Parse implements Parser for any language without a dedicated AST path.
func (fp *FallbackParser) Parse(collection, filePath string, content []byte, language models.Language) (Result, error) {
	src := string(content)
	if strings.TrimSpace(src) == "" {
		return Result{}, nil
	}

	lines := strings.Split(src, "\n")
	patterns := languagePatterns[language]
	if patterns == nil {
		patterns = defaultPatterns
	}

	stem := fileStem(filePath)

	type boundary struct {
		line int
		name string
		kind models.ChunkKind
	}
	var bounds []boundary
	for i, line := range lines {
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[len(m)-1]
			if name == "" {
				continue
			}
			bounds = append(bounds, boundary{line: i, name: name, kind: p.kind})
			break
		}
	}

	var chunks []models.Chunk
	if len(bounds) == 0 {
		chunks = append(chunks, fp.fileChunk(collection, filePath, stem, src, lines))
		return Result{Chunks: chunks}, nil
	}

	for i, b := range bounds {
		end := len(lines)
		if i+1 < len(bounds) {
			end = bounds[i+1].line
		}
		body := strings.Join(lines[b.line:end], "\n")
		qualified := stem + "." + b.name

		chunk := models.Chunk{
			ID:            models.ChunkID(collection, filePath, b.kind, qualified, b.line+1),
			Collection:    collection,
			FilePath:      filePath,
			Language:      language,
			Kind:          b.kind,
			QualifiedName: qualified,
			Content:       body,
			LineStart:     b.line + 1,
			LineEnd:       end,
			Keywords:      tokenize.Keywords(body, tokenize.Options{}),
			ContentHash:   models.ContentHash(body),
		}
		if len(chunk.Content) > MaxChunkChars {
			chunks = append(chunks, splitOversizeFallbackChunk(chunk)...)
		} else {
			chunks = append(chunks, chunk)
		}
	}

	return Result{Chunks: chunks}, nil
}

func (fp *FallbackParser) fileChunk(collection, filePath, stem, src string, lines []string) models.Chunk {
	return models.Chunk{
		ID:            models.ChunkID(collection, filePath, models.ChunkKindFile, stem, 1),
		Collection:    collection,
		FilePath:      filePath,
		Language:      models.LanguageOther,
		Kind:          models.ChunkKindFile,
		QualifiedName: stem,
		Content:       src,
		LineStart:     1,
		LineEnd:       len(lines),
		Keywords:      tokenize.Keywords(src, tokenize.Options{}),
		ContentHash:   models.ContentHash(src),
	}
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
