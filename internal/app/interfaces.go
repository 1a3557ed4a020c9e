package app

import (
	"context"

	"docqa/internal/ai"
	"docqa/internal/model"
	"docqa/internal/vectorstore"
)

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type ChatModel interface {
	Generate(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

type VectorIndex interface {
	Exists(indexPath string) bool
	Build(ctx context.Context, documentID uint, chunks []vectorstore.Chunk) (string, error)
	Query(ctx context.Context, indexPath string, query []float32, k int) ([]vectorstore.Match, error)
}

type AnswerCache interface {
	GetAnswer(ctx context.Context, key string) (*model.Answer, bool, error)
	SetAnswer(ctx context.Context, key string, answer *model.Answer) error
}

// IngestDispatcher hands a document to the ingestion pipeline without waiting for it.
type IngestDispatcher interface {
	Dispatch(ctx context.Context, documentID uint) error
}
