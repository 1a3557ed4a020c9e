// Package testutil holds fixtures shared by package tests: a throwaway SQLite
// database, a tiny PDF writer and deterministic stand-ins for the AI providers.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docqa/internal/ai"
	"docqa/internal/model"
	sqliteClient "docqa/internal/platform/sqlite"
)

func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := sqliteClient.New(context.Background(), filepath.Join(t.TempDir(), "docqa.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Document{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// MinimalPDF renders one page per string with a single Helvetica text run.
func MinimalPDF(pages ...string) []byte {
	n := len(pages)
	fontObj := 3
	firstPageObj := 4
	totalObjs := 3 + 2*n

	objects := make([]string, totalObjs+1)
	objects[1] = "<< /Type /Catalog /Pages 2 0 R >>"

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+2*i)
	}
	objects[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n)
	objects[fontObj] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

	for i, text := range pages {
		pageObj := firstPageObj + 2*i
		contentObj := pageObj + 1
		objects[pageObj] = fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			fontObj, contentObj)
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escapePDFString(text))
		objects[contentObj] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, totalObjs+1)
	for i := 1; i <= totalObjs; i++ {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i, objects[i])
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", totalObjs+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= totalObjs; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", totalObjs+1, xref)
	return buf.Bytes()
}

// WritePDF stores MinimalPDF(pages...) under dir and returns its path.
func WritePDF(t *testing.T, dir, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, MinimalPDF(pages...), 0o644))
	return path
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

const fakeDims = 64

// FakeEmbedder maps text to a hashed bag-of-words vector, so texts sharing
// words are close. Err, when set, is returned from every call.
type FakeEmbedder struct {
	Err error
	// Gate, when non-nil, blocks EmbedDocuments until it is closed.
	Gate chan struct{}

	documentCalls atomic.Int32
	queryCalls    atomic.Int32
}

func (f *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.documentCalls.Add(1)
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashVector(text)
	}
	return out, nil
}

func (f *FakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queryCalls.Add(1)
	if f.Err != nil {
		return nil, f.Err
	}
	return HashVector(text), nil
}

func (f *FakeEmbedder) DocumentCalls() int { return int(f.documentCalls.Load()) }
func (f *FakeEmbedder) QueryCalls() int    { return int(f.queryCalls.Load()) }

// HashVector returns a unit vector; the last dimension is a constant so no vector is zero.
func HashVector(text string) []float32 {
	vec := make([]float32, fakeDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]\"'")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%(fakeDims-1)]++
	}
	vec[fakeDims-1] = 0.1

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// FakeChat answers with Reply, or when Reply is empty with a citation of the
// first context passage. The reply is streamed word by word.
type FakeChat struct {
	Reply string
	Err   error
	// Gate, when non-nil, blocks Generate until it is closed or ctx ends.
	Gate chan struct{}

	mu    sync.Mutex
	calls [][]ai.ChatMessage
}

func (f *FakeChat) Generate(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}

	reply := f.Reply
	if reply == "" {
		reply = citeFirstPassage(messages)
	}
	if onChunk != nil {
		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			if err := onChunk(w); err != nil {
				return "", err
			}
		}
	}
	return reply, nil
}

// LastPrompt returns the user message of the most recent call.
func (f *FakeChat) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	msgs := f.calls[len(f.calls)-1]
	return msgs[len(msgs)-1].Content
}

func (f *FakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func citeFirstPassage(messages []ai.ChatMessage) string {
	prompt := messages[len(messages)-1].Content
	lines := strings.Split(prompt, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "[1]") && i+1 < len(lines) {
			return fmt.Sprintf("According to [1]: %s", lines[i+1])
		}
	}
	return "No context."
}
