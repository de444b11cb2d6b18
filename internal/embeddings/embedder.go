package embeddings

// Embedder is the external collaborator the indexer and retriever depend
// on to turn text into vectors. Client implements it against Ollama.
type Embedder interface {
	GenerateEmbedding(text string) ([]float32, error)
	GenerateEmbeddings(texts []string) ([][]float32, error)
}
