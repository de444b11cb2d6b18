package models

import "testing"

func TestChunkIDStable(t *testing.T) {
	a := ChunkID("repo-a", "src/Main.java", ChunkKindClass, "com.example.Main", 10)
	b := ChunkID("repo-a", "src/Main.java", ChunkKindClass, "com.example.Main", 10)
	if a != b {
		t.Fatalf("ChunkID not stable: %s != %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32-char id, got %d: %s", len(a), a)
	}
}

func TestChunkIDDiffersOnAnyField(t *testing.T) {
	base := ChunkID("repo-a", "src/Main.java", ChunkKindClass, "com.example.Main", 10)
	cases := []string{
		ChunkID("repo-b", "src/Main.java", ChunkKindClass, "com.example.Main", 10),
		ChunkID("repo-a", "src/Other.java", ChunkKindClass, "com.example.Main", 10),
		ChunkID("repo-a", "src/Main.java", ChunkKindMethod, "com.example.Main", 10),
		ChunkID("repo-a", "src/Main.java", ChunkKindClass, "com.example.Other", 10),
		ChunkID("repo-a", "src/Main.java", ChunkKindClass, "com.example.Main", 11),
	}
	for i, c := range cases {
		if c == base {
			t.Fatalf("case %d: expected id to differ from base", i)
		}
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	h1 := ContentHash("class Main {}")
	h2 := ContentHash("class Main { void run() {} }")
	if h1 == h2 {
		t.Fatalf("expected different hashes for different content")
	}
	if ContentHash("class Main {}") != h1 {
		t.Fatalf("ContentHash not deterministic")
	}
}
