// Package parsing turns source file content into Chunks: Java gets
// first-class AST-based extraction, every other language falls back to
// a line-boundary regex heuristic tokenizer.
package parsing

import "github.com/jamaly87/codebase-rag-core/internal/models"

// MaxChunkChars is the design constant above which a chunk is split into
// deterministic, id-qualified `block` sub-chunks.
const MaxChunkChars = 4000

// Warning is a non-fatal note about best-effort recovery during parsing.
type Warning struct {
	Message string
	Line    int
}

// Result is the outcome of Parse: zero or more chunks plus any warnings
// raised while recovering from partial structure.
type Result struct {
	Chunks   []models.Chunk
	Warnings []Warning
}

// Parser extracts Chunks from a single file's content. It fails with a
// ParseError only when no partial structure is recoverable; otherwise it
// returns best-effort chunks plus warnings.
type Parser interface {
	Parse(collection, filePath string, content []byte, language models.Language) (Result, error)
}
