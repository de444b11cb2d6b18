package parsing

import (
	"path/filepath"
	"strings"

	"github.com/jamaly87/codebase-rag-core/internal/models"
)

var extToLanguage = map[string]models.Language{
	".java": models.LanguageJava,
	".py":   models.LanguagePython,
	".js":   models.LanguageJavaScript,
	".jsx":  models.LanguageJavaScript,
	".mjs":  models.LanguageJavaScript,
	".cjs":  models.LanguageJavaScript,
	".ts":   models.LanguageTypeScript,
	".tsx":  models.LanguageTypeScript,
	".go":   models.LanguageGo,
}

// DetectLanguage maps a file extension to a Language, defaulting to
// LanguageOther for anything unrecognized.
func DetectLanguage(filePath string) models.Language {
	ext := strings.ToLower(filepath.Ext(filePath))
	if lang, ok := extToLanguage[ext]; ok {
		return lang
	}
	return models.LanguageOther
}

// Dispatch routes Parse calls to the Java AST parser or the fallback
// tokenizer parser based on detected language.
type Dispatch struct {
	java     *JavaParser
	fallback *FallbackParser
}

// NewDispatch wires the two Parser implementations C1 supports.
func NewDispatch() *Dispatch {
	return &Dispatch{java: NewJavaParser(), fallback: NewFallbackParser()}
}

// Parse implements Parser, choosing Java's AST walker for Java source and
// the fallback tokenizer for everything else.
func (d *Dispatch) Parse(collection, filePath string, content []byte, language models.Language) (Result, error) {
	if language == models.LanguageJava {
		return d.java.Parse(collection, filePath, content, language)
	}
	return d.fallback.Parse(collection, filePath, content, language)
}
