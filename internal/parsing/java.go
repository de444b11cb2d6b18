package parsing

import (
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"

	"github.com/jamaly87/codebase-rag-core/internal/coreerrors"
	"github.com/jamaly87/codebase-rag-core/internal/models"
	"github.com/jamaly87/codebase-rag-core/internal/tokenize"
)

// Tree-sitter node type constants. These strings come from the Java
// grammar, not from this package, and are stable within a parser
// version.
const (
	nodeJavaClass       = "class_declaration"
	nodeJavaInterface    = "interface_declaration"
	nodeJavaEnum         = "enum_declaration"
	nodeJavaRecord       = "record_declaration"
	nodeJavaMethod       = "method_declaration"
	nodeJavaConstructor  = "constructor_declaration"
	nodeJavaPackage      = "package_declaration"
	nodeJavaImport       = "import_declaration"
	nodeJavaIdentifier   = "identifier"
	nodeJavaBlockComment = "block_comment"
	nodeJavaLineComment  = "line_comment"
)

var javaTypeNodes = map[string]bool{
	nodeJavaClass:     true,
	nodeJavaInterface: true,
	nodeJavaEnum:      true,
	nodeJavaRecord:    true,
}

var javaMethodNodes = map[string]bool{
	nodeJavaMethod:      true,
	nodeJavaConstructor: true,
}

// JavaParser is a tree-sitter-backed Parser for Java source. Tree-sitter
// parsers are not thread-safe, so every call is serialized by a mutex.
type JavaParser struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewJavaParser builds a JavaParser with its tree-sitter grammar loaded.
func NewJavaParser() *JavaParser {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())
	return &JavaParser{parser: p}
}

// Parse implements Parser for Java source files.
func (jp *JavaParser) Parse(collection, filePath string, content []byte, language models.Language) (Result, error) {
	jp.mu.Lock()
	tree := jp.parser.Parse(nil, content)
	jp.mu.Unlock()

	if tree == nil || tree.RootNode() == nil {
		return Result{}, coreerrors.New(coreerrors.ParseError, "parsing.JavaParser.Parse", "tree-sitter returned no tree")
	}
	root := tree.RootNode()
	if root.HasError() && root.ChildCount() == 0 {
		return Result{}, coreerrors.New(coreerrors.ParseError, "parsing.JavaParser.Parse", "no recoverable structure")
	}

	src := string(content)
	pkg := extractPackage(root, src)
	imports := extractImports(root, src)

	w := &javaWalker{
		collection: collection,
		filePath:   filePath,
		src:        src,
		pkg:        pkg,
		imports:    imports,
		seen:       make(map[string]int),
	}
	w.walkTopLevel(root, nil)

	return Result{Chunks: w.chunks, Warnings: w.warnings}, nil
}

type javaWalker struct {
	collection string
	filePath   string
	src        string
	pkg        string
	imports    []string
	chunks     []models.Chunk
	warnings   []Warning
	seen       map[string]int // qualified_name -> count, for overload disambiguation
}

// walkTopLevel visits every type declaration reachable from node,
// recursing into nested type bodies. parents is the chain of enclosing
// qualified type names.
func (w *javaWalker) walkTopLevel(node *sitter.Node, parents []string) {
	if node == nil {
		return
	}
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if javaTypeNodes[child.Type()] {
			w.emitType(child, parents)
			continue
		}
		w.walkTopLevel(child, parents)
	}
}

func (w *javaWalker) emitType(node *sitter.Node, parents []string) {
	name := extractIdentifier(node, w.src)
	if name == "" {
		return
	}

	qualified := name
	if w.pkg != "" && len(parents) == 0 {
		qualified = w.pkg + "." + name
	} else if len(parents) > 0 {
		qualified = parents[len(parents)-1] + "." + name
	}
	qualified = canonicalize(qualified)

	content, startLine, endLine := w.classSummary(node)
	w.addChunk(models.ChunkKindClass, qualified, content, startLine, endLine, parents)

	nextParents := append(append([]string{}, parents...), qualified)
	for _, method := range w.directMethods(node) {
		w.emitMethod(method, nextParents)
	}

	body := javaBodyOf(node)
	w.walkTopLevel(body, nextParents)
}

func (w *javaWalker) emitMethod(node *sitter.Node, parents []string) {
	name := extractIdentifier(node, w.src)
	if name == "" {
		name = "<init>"
	}
	class := parents[len(parents)-1]
	qualified := canonicalize(class + "." + name)

	start, end := javadocRange(node, w.src)
	content := sliceBetween(w.src, start, end)
	startLine, endLine := lineRange(w.src, start, end)

	w.addChunk(models.ChunkKindMethod, qualified, content, startLine, endLine, parents)
}

func (w *javaWalker) addChunk(kind models.ChunkKind, qualified, content string, startLine, endLine int, parents []string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	final := qualified
	if n := w.seen[qualified]; n > 0 {
		final = fmt.Sprintf("%s#%d", qualified, startLine)
	}
	w.seen[qualified]++

	chunk := models.Chunk{
		ID:            models.ChunkID(w.collection, w.filePath, kind, final, startLine),
		Collection:    w.collection,
		FilePath:      w.filePath,
		Language:      models.LanguageJava,
		Kind:          kind,
		QualifiedName: final,
		Content:       content,
		LineStart:     startLine,
		LineEnd:       endLine,
		Parents:       append([]string{}, parents...),
		Keywords:      tokenize.Keywords(content, tokenize.Options{}),
		Imports:       w.imports,
		ContentHash:   models.ContentHash(content),
	}

	if len(chunk.Content) > MaxChunkChars {
		w.chunks = append(w.chunks, splitOversizeJavaChunk(chunk)...)
		return
	}
	w.chunks = append(w.chunks, chunk)
}

// classSummary builds the signature + fields + stripped method list
// content for a class/interface/enum chunk: a summary, not a duplicate
// of the methods emitted separately.
func (w *javaWalker) classSummary(node *sitter.Node) (string, int, int) {
	start := node.StartByte()
	end := node.EndByte()
	startLine := int(node.StartPoint().Row) + 1
	endLine := int(node.EndPoint().Row) + 1

	body := javaBodyOf(node)
	var headerEnd uint32
	if body != nil {
		headerEnd = body.StartByte() + 1 // include the opening brace
	} else {
		headerEnd = end
	}

	var b strings.Builder
	b.WriteString(sliceBetween(w.src, start, headerEnd))
	b.WriteString("\n")

	for _, field := range w.fieldDeclarations(node) {
		b.WriteString("    ")
		b.WriteString(oneLine(sliceBetween(w.src, field.StartByte(), field.EndByte())))
		b.WriteString("\n")
	}

	methods := w.directMethods(node)
	if len(methods) > 0 {
		b.WriteString("\n    // Methods:\n")
		for _, m := range methods {
			sig := methodSignature(m, w.src)
			b.WriteString("    // ")
			b.WriteString(sig)
			b.WriteString("\n")
		}
	}
	b.WriteString("}\n")

	return b.String(), startLine, endLine
}

func (w *javaWalker) directMethods(typeNode *sitter.Node) []*sitter.Node {
	body := javaBodyOf(typeNode)
	if body == nil {
		return nil
	}
	var methods []*sitter.Node
	childCount := int(body.ChildCount())
	for i := 0; i < childCount; i++ {
		child := body.Child(i)
		if child != nil && javaMethodNodes[child.Type()] {
			methods = append(methods, child)
		}
	}
	return methods
}

func (w *javaWalker) fieldDeclarations(typeNode *sitter.Node) []*sitter.Node {
	body := javaBodyOf(typeNode)
	if body == nil {
		return nil
	}
	var fields []*sitter.Node
	childCount := int(body.ChildCount())
	for i := 0; i < childCount; i++ {
		child := body.Child(i)
		if child != nil && child.Type() == "field_declaration" {
			fields = append(fields, child)
		}
	}
	return fields
}

func javaBodyOf(typeNode *sitter.Node) *sitter.Node {
	childCount := int(typeNode.ChildCount())
	for i := 0; i < childCount; i++ {
		child := typeNode.Child(i)
		if child != nil && strings.HasSuffix(child.Type(), "_body") {
			return child
		}
	}
	return nil
}

func extractIdentifier(node *sitter.Node, src string) string {
	childCount := int(node.ChildCount())
	for i := 0; i < childCount; i++ {
		child := node.Child(i)
		if child != nil && child.Type() == nodeJavaIdentifier {
			return sliceBetween(src, child.StartByte(), child.EndByte())
		}
	}
	return ""
}

func extractPackage(root *sitter.Node, src string) string {
	childCount := int(root.ChildCount())
	for i := 0; i < childCount; i++ {
		child := root.Child(i)
		if child != nil && child.Type() == nodeJavaPackage {
			text := sliceBetween(src, child.StartByte(), child.EndByte())
			text = strings.TrimPrefix(text, "package")
			text = strings.TrimSuffix(strings.TrimSpace(text), ";")
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func extractImports(root *sitter.Node, src string) []string {
	var imports []string
	childCount := int(root.ChildCount())
	for i := 0; i < childCount; i++ {
		child := root.Child(i)
		if child != nil && child.Type() == nodeJavaImport {
			text := sliceBetween(src, child.StartByte(), child.EndByte())
			text = strings.TrimPrefix(text, "import")
			text = strings.TrimPrefix(strings.TrimSpace(text), "static")
			text = strings.TrimSuffix(strings.TrimSpace(text), ";")
			imports = append(imports, strings.TrimSpace(text))
		}
	}
	return imports
}

// javadocRange extends a method node's start backward over an
// immediately preceding comment (its Javadoc), so the emitted chunk
// content includes signature plus doc comment.
func javadocRange(node *sitter.Node, src string) (uint32, uint32) {
	start := node.StartByte()
	end := node.EndByte()

	prev := node.PrevSibling()
	if prev != nil && (prev.Type() == nodeJavaBlockComment || prev.Type() == nodeJavaLineComment) {
		between := src[prev.EndByte():node.StartByte()]
		if strings.TrimSpace(between) == "" {
			start = prev.StartByte()
		}
	}
	return start, end
}

func methodSignature(node *sitter.Node, src string) string {
	content := sliceBetween(src, node.StartByte(), node.EndByte())
	lines := strings.SplitN(content, "\n", 2)
	sig := strings.TrimSpace(lines[0])
	if len(sig) > 100 {
		sig = sig[:100] + "..."
	}
	return sig
}

func sliceBetween(src string, start, end uint32) string {
	if int(end) > len(src) {
		end = uint32(len(src))
	}
	if start >= end {
		return ""
	}
	return src[start:end]
}

func lineRange(src string, start, end uint32) (int, int) {
	startLine := strings.Count(src[:start], "\n") + 1
	endLine := strings.Count(src[:end], "\n") + 1
	return startLine, endLine
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalize collapses whitespace and strips generic type parameters
// from a qualified name, per the normalization rule every chunk's
// qualified_name follows.
func canonicalize(s string) string {
	s = strings.Join(strings.Fields(s), "")
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
