package model

// Source is a retrieved chunk cited by an answer.
type Source struct {
	DocumentID uint    `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// IngestJob is the queue payload asking a worker to index a document.
type IngestJob struct {
	DocumentID uint `json:"document_id"`
}

// Answer is the reply to one chat question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}
