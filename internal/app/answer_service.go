package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"docqa/internal/ai"
	"docqa/internal/model"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
)

const (
	noMatchesAnswer = "I couldn't find enough relevant information in the uploaded documents to answer your question. " +
		"Please try rephrasing your question or upload more relevant documents."
	insufficientInfoAnswer = "I don't have enough information in the uploaded documents to answer this question. " +
		"Please try rephrasing your question or upload more relevant documents."
	emptyModelAnswer = "The model returned an empty response."
	snippetRunes     = 200

	// holdRunes of a reply are buffered before streaming starts, so a refusal can be
	// swapped for insufficientInfoAnswer before the client sees any of it.
	holdRunes = 120
)

const systemPrompt = `You are a helpful assistant that answers questions based only on the provided context from uploaded documents.
If you don't know the answer based on the provided context, say "I don't have enough information in the uploaded documents to answer this question."
For greeting messages just give a simple response like "Hello! How can I help you today?".
Do not use any knowledge outside of the provided context.
Each context passage is numbered; cite the passages you use by number, for example [1].`

type AnswerConfig struct {
	TopK    int
	Timeout time.Duration
}

type AskInput struct {
	DocumentIDs []uint
	Question    string
	TopK        int
}

// AnswerService answers questions from the vector indices of ready documents.
type AnswerService struct {
	repo     *repository.DocumentRepository
	embedder Embedder
	chat     ChatModel
	index    VectorIndex
	cache    AnswerCache
	topK     int
	timeout  time.Duration
}

func NewAnswerService(
	repo *repository.DocumentRepository,
	embedder Embedder,
	chat ChatModel,
	index VectorIndex,
	cache AnswerCache,
	cfg AnswerConfig,
) *AnswerService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &AnswerService{
		repo:     repo,
		embedder: embedder,
		chat:     chat,
		index:    index,
		cache:    cache,
		topK:     cfg.TopK,
		timeout:  cfg.Timeout,
	}
}

// Ask retrieves the top-K chunks for the question across the targeted documents and asks
// the chat model to answer from them. onToken, when set, receives answer text as it streams.
// With no document ids every ready document is searched.
func (s *AnswerService) Ask(ctx context.Context, in AskInput, onToken func(string) error) (*model.Answer, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrQuestionRequired
	}
	k := in.TopK
	if k <= 0 {
		k = s.topK
	}

	docs, err := s.resolveDocuments(in.DocumentIDs)
	if err != nil {
		return nil, err
	}

	cacheKey := answerCacheKey(docs, k, question)
	if s.cache != nil {
		cached, ok, err := s.cache.GetAnswer(ctx, cacheKey)
		if err != nil {
			log.Warn().Err(err).Msg("answer cache get failed")
		} else if ok {
			log.Debug().Str("question", question).Msg("answer cache hit")
			if onToken != nil && cached.Answer != "" {
				if err := onToken(cached.Answer); err != nil {
					return nil, err
				}
			}
			return cached, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.answer(runCtx, docs, question, k, onToken)
	if err != nil {
		return nil, s.timeoutOr(err)
	}

	if s.cache != nil {
		if err := s.cache.SetAnswer(ctx, cacheKey, answer); err != nil {
			log.Warn().Err(err).Msg("answer cache set failed")
		}
	}
	return answer, nil
}

func (s *AnswerService) resolveDocuments(ids []uint) ([]model.Document, error) {
	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return nil, fmt.Errorf("%w: document id must be positive", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	if len(unique) == 0 {
		docs, err := s.repo.List(model.DocumentStatusReady, 0)
		if err != nil {
			return nil, err
		}
		queryable := docs[:0]
		for _, d := range docs {
			if !d.Queryable() || !s.index.Exists(d.IndexPath) {
				log.Warn().Uint("document_id", d.ID).Msg("skipping ready document without a usable index")
				continue
			}
			queryable = append(queryable, d)
		}
		if len(queryable) == 0 {
			return nil, ErrNoDocuments
		}
		return queryable, nil
	}

	docs, err := s.repo.ListByIDs(unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ordered := make([]model.Document, 0, len(unique))
	for _, id := range unique {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		ordered = append(ordered, d)
	}
	return s.requireQueryable(ordered)
}

func (s *AnswerService) requireQueryable(docs []model.Document) ([]model.Document, error) {
	for i := range docs {
		d := &docs[i]
		if !d.Queryable() || !s.index.Exists(d.IndexPath) {
			return nil, &NotReadyError{DocumentID: d.ID, Status: d.Status, Reason: d.FailureReason}
		}
	}
	return docs, nil
}

type scoredMatch struct {
	doc   *model.Document
	match vectorstore.Match
}

func (s *AnswerService) answer(
	ctx context.Context,
	docs []model.Document,
	question string,
	k int,
	onToken func(string) error,
) (*model.Answer, error) {
	queryVec, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	var matches []scoredMatch
	for i := range docs {
		d := &docs[i]
		found, err := s.index.Query(ctx, d.IndexPath, queryVec, k)
		if err != nil {
			if errors.Is(err, vectorstore.ErrIndexNotFound) {
				return nil, &NotReadyError{DocumentID: d.ID, Status: d.Status}
			}
			return nil, fmt.Errorf("query vector index failed: %w", err)
		}
		for _, m := range found {
			matches = append(matches, scoredMatch{doc: d, match: m})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].match.Similarity > matches[j].match.Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	if len(matches) == 0 {
		if onToken != nil {
			if err := onToken(noMatchesAnswer); err != nil {
				return nil, err
			}
		}
		return &model.Answer{Answer: noMatchesAnswer, Sources: []model.Source{}}, nil
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(question, matches)},
	}
	gate := &replyGate{onToken: onToken}
	var sink func(string) error
	if onToken != nil {
		sink = gate.write
	}
	text, err := s.chat.Generate(ctx, messages, sink)
	if err != nil {
		return nil, err
	}

	// once streaming has started the reply stands as sent
	text = strings.TrimSpace(text)
	if !gate.streaming {
		switch {
		case text == "":
			text = emptyModelAnswer
		case signalsInsufficientInfo(text):
			text = insufficientInfoAnswer
		}
		if onToken != nil {
			if err := onToken(text); err != nil {
				return nil, err
			}
		}
	}

	sources := make([]model.Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, model.Source{
			DocumentID: m.doc.ID,
			Filename:   m.doc.Filename,
			Page:       m.match.Page,
			ChunkIndex: m.match.Index,
			Content:    snippet(m.match.Content),
			Score:      m.match.Similarity,
		})
	}
	return &model.Answer{Answer: text, Sources: sources}, nil
}

// replyGate holds back the start of a streamed reply. It starts passing tokens through
// once holdRunes have arrived without a refusal among them.
type replyGate struct {
	onToken   func(string) error
	held      strings.Builder
	streaming bool
}

func (g *replyGate) write(token string) error {
	if g.streaming {
		return g.onToken(token)
	}
	g.held.WriteString(token)
	text := g.held.String()
	if utf8.RuneCountInString(text) < holdRunes || signalsInsufficientInfo(text) {
		return nil
	}
	g.streaming = true
	return g.onToken(strings.TrimLeftFunc(text, unicode.IsSpace))
}

func (s *AnswerService) timeoutOr(err error) error {
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func buildPrompt(question string, matches []scoredMatch) string {
	var b strings.Builder
	b.WriteString("Context from documents:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] (%s, page %d)\n%s\n\n", i+1, m.doc.Filename, m.match.Page, m.match.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer: Provide a clear answer based only on the context provided. ")
	b.WriteString("Include references to the source documents when possible.")
	return b.String()
}

func signalsInsufficientInfo(answer string) bool {
	lower := strings.ToLower(answer)
	return strings.Contains(lower, "don't have enough information") || strings.Contains(lower, "don't know")
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes]) + "..."
}

// answerCacheKey changes whenever a targeted document is re-indexed.
func answerCacheKey(docs []model.Document, k int, question string) string {
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(strconv.FormatUint(uint64(d.ID), 10))
		b.WriteByte('@')
		b.WriteString(strconv.FormatInt(d.UpdatedAt.UnixNano(), 10))
		b.WriteByte(',')
	}
	b.WriteString("|k=")
	b.WriteString(strconv.Itoa(k))
	b.WriteString("|q=")
	b.WriteString(question)
	return b.String()
}
