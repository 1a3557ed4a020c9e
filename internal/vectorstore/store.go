// Package vectorstore keeps one persistent chromem-go index per document on local disk.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

const collectionName = "chunks"

var ErrIndexNotFound = errors.New("vector index not found")

// Chunk is a piece of document text with its embedding.
type Chunk struct {
	ID        string
	Content   string
	Source    string
	Page      int
	Index     int
	Embedding []float32
}

// Match is a chunk returned by a similarity query.
type Match struct {
	ChunkID    string
	Content    string
	Source     string
	Page       int
	Index      int
	Similarity float32
}

type Store struct {
	baseDir string

	mu     sync.RWMutex
	loaded map[string]*chromem.Collection
}

func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir failed: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		loaded:  make(map[string]*chromem.Collection),
	}, nil
}

// PathFor returns the index directory of a document.
func (s *Store) PathFor(documentID uint) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("doc_%d", documentID))
}

func (s *Store) Exists(indexPath string) bool {
	if indexPath == "" {
		return false
	}
	info, err := os.Stat(indexPath)
	return err == nil && info.IsDir()
}

// Build writes a new index for the document and returns its path. The index is
// assembled in a temporary directory and renamed into place, so a directory at
// PathFor always holds a complete index.
func (s *Store) Build(ctx context.Context, documentID uint, chunks []Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("no chunks to index")
	}

	finalPath := s.PathFor(documentID)
	tmpPath := finalPath + ".tmp-" + uuid.NewString()
	defer os.RemoveAll(tmpPath)

	db, err := chromem.NewPersistentDB(tmpPath, false)
	if err != nil {
		return "", fmt.Errorf("create vector db failed: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, map[string]string{
		"document_id": strconv.FormatUint(uint64(documentID), 10),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create vector collection failed: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				"source":      c.Source,
				"page":        strconv.Itoa(c.Page),
				"chunk_index": strconv.Itoa(c.Index),
			},
			Embedding: c.Embedding,
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("add vectors failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(finalPath); err != nil {
		return "", fmt.Errorf("remove previous index failed: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("move index into place failed: %w", err)
	}
	delete(s.loaded, finalPath)
	return finalPath, nil
}

// Query returns up to k chunks most similar to the query embedding, best first.
func (s *Store) Query(ctx context.Context, indexPath string, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	collection, err := s.open(indexPath)
	if err != nil {
		return nil, err
	}

	n := collection.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := collection.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index failed: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		page, _ := strconv.Atoi(r.Metadata["page"])
		idx, _ := strconv.Atoi(r.Metadata["chunk_index"])
		matches[i] = Match{
			ChunkID:    r.ID,
			Content:    r.Content,
			Source:     r.Metadata["source"],
			Page:       page,
			Index:      idx,
			Similarity: r.Similarity,
		}
	}
	return matches, nil
}

// Remove deletes a document's index from disk.
func (s *Store) Remove(indexPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loaded, indexPath)
	if err := os.RemoveAll(indexPath); err != nil {
		return fmt.Errorf("remove index failed: %w", err)
	}
	return nil
}

func (s *Store) open(indexPath string) (*chromem.Collection, error) {
	s.mu.RLock()
	collection, ok := s.loaded[indexPath]
	s.mu.RUnlock()
	if ok {
		return collection, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if collection, ok := s.loaded[indexPath]; ok {
		return collection, nil
	}
	if !s.Exists(indexPath) {
		return nil, ErrIndexNotFound
	}
	db, err := chromem.NewPersistentDB(indexPath, false)
	if err != nil {
		return nil, fmt.Errorf("load vector db failed: %w", err)
	}
	collection = db.GetCollection(collectionName, nil)
	if collection == nil {
		return nil, ErrIndexNotFound
	}
	s.loaded[indexPath] = collection
	return collection, nil
}
