package tokenize

import (
	"reflect"
	"sort"
	"testing"
)

func TestTokenizeCamelCaseSplitsAndJoins(t *testing.T) {
	terms := Tokenize("BookController", Options{})
	want := map[string]bool{"book": true, "controller": true, "bookcontroller": true}
	got := map[string]bool{}
	for _, term := range terms {
		got[term] = true
	}
	for w := range want {
		if !got[w] {
			t.Fatalf("expected term %q in %v", w, terms)
		}
	}
}

func TestTokenizeStripsStopWords(t *testing.T) {
	terms := Tokenize("return this value", Options{})
	for _, term := range terms {
		if term == "return" || term == "this" {
			t.Fatalf("expected stop word %q to be stripped, got %v", term, terms)
		}
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	a := Tokenize("getBookById", Options{})
	b := Tokenize("getBookById", Options{})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected deterministic output, got %v vs %v", a, b)
	}
}

func TestTokenizePreservesMultiplicity(t *testing.T) {
	terms := Tokenize("book book book", Options{})
	count := 0
	for _, term := range terms {
		if term == "book" {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("expected 3 occurrences of book, got %d in %v", count, terms)
	}
}

func TestKeywordsDeduplicates(t *testing.T) {
	kw := Keywords("book book controller", Options{})
	sort.Strings(kw)
	want := []string{"book", "controller"}
	if !reflect.DeepEqual(kw, want) {
		t.Fatalf("got %v want %v", kw, want)
	}
}

func TestTokenizeCaseSensitive(t *testing.T) {
	terms := Tokenize("Book", Options{CaseSensitive: true})
	found := false
	for _, term := range terms {
		if term == "Book" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected case-sensitive term preserved, got %v", terms)
	}
}
