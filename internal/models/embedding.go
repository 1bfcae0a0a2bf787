package models

import "time"

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
	Offset     int
}

// VectorRecord is a chunk with its embedding as stored in the vector store.
type VectorRecord struct {
	ID         string
	Content    string
	Source     string
	PageNumber int
	ChunkID    int
	Embedding  []float32
}

type SearchResult struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	Score    float32 `json:"score"`
	Distance float32 `json:"distance"`
}

type Document struct {
	ID        string    `json:"document_id"`
	Filename  string    `json:"filename"`
	Kind      string    `json:"kind"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

type PromptResponse struct {
	Query    string
	Answer   string
	TraceID  string
	Provider string
	Sources  []SearchResult
}
