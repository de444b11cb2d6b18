package parsing

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/tokenize"
)

// maxChunkTokens approximates MaxChunkChars at roughly 4 chars/token for
// cl100k_base on source code, so oversize decisions are token-aware
// rather than purely byte-counted.
const maxChunkTokens = MaxChunkChars / 4

var sharedEncoder *tiktoken.Tiktoken

func encoder() *tiktoken.Tiktoken {
	if sharedEncoder != nil {
		return sharedEncoder
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	sharedEncoder = enc
	return sharedEncoder
}

// splitOversizeJavaChunk splits an oversize class or method chunk on
// blank-line boundaries into `block`-kind sub-chunks. Split points are
// blank lines only; they are not checked against the AST's statement
// boundaries, so a blank line inside a multi-line statement is a split
// point too.
func splitOversizeJavaChunk(chunk models.Chunk) []models.Chunk {
	return splitOnBlankLines(chunk)
}

// splitOversizeFallbackChunk splits a fallback-parser chunk the same way;
// fallback parsing has no statement boundaries to respect, so blank-line
// splitting is the only available strategy there too.
func splitOversizeFallbackChunk(chunk models.Chunk) []models.Chunk {
	return splitOnBlankLines(chunk)
}

func splitOnBlankLines(chunk models.Chunk) []models.Chunk {
	enc := encoder()
	paragraphs := splitIntoParagraphs(chunk.Content)

	var blocks []models.Chunk
	var buf strings.Builder
	tokenCount := 0
	lineOffset := chunk.LineStart
	blockStartLine := lineOffset

	flush := func() {
		content := strings.TrimRight(buf.String(), "\n")
		if strings.TrimSpace(content) == "" {
			return
		}
		idx := len(blocks)
		qualified := fmt.Sprintf("%s#block%d", chunk.QualifiedName, idx)
		endLine := blockStartLine + strings.Count(content, "\n")
		blocks = append(blocks, models.Chunk{
			ID:            models.ChunkID(chunk.Collection, chunk.FilePath, models.ChunkKindBlock, qualified, blockStartLine),
			Collection:    chunk.Collection,
			FilePath:      chunk.FilePath,
			Language:      chunk.Language,
			Kind:          models.ChunkKindBlock,
			QualifiedName: qualified,
			Content:       content,
			LineStart:     blockStartLine,
			LineEnd:       endLine,
			Parents:       append(append([]string{}, chunk.Parents...), chunk.QualifiedName),
			Keywords:      tokenize.Keywords(content, tokenize.Options{}),
			Imports:       chunk.Imports,
			ContentHash:   models.ContentHash(content),
		})
		blockStartLine = endLine + 1
		buf.Reset()
		tokenCount = 0
	}

	for _, para := range paragraphs {
		paraTokens := countTokens(enc, para)
		if tokenCount > 0 && tokenCount+paraTokens > maxChunkTokens {
			flush()
		}
		buf.WriteString(para)
		buf.WriteString("\n\n")
		tokenCount += paraTokens
	}
	flush()

	if len(blocks) == 0 {
		return []models.Chunk{chunk}
	}
	return blocks
}

func countTokens(enc *tiktoken.Tiktoken, text string) int {
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// splitIntoParagraphs splits on blank lines, preserving non-empty
// paragraphs in order.
func splitIntoParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
