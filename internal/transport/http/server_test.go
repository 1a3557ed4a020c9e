package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/app"
	"docqa/internal/bootstrap"
	"docqa/internal/config"
	"docqa/internal/model"
	"docqa/internal/pkg/jwtutil"
	"docqa/internal/repository"
	"docqa/internal/testutil"
	"docqa/internal/transport/http/response"
	"docqa/internal/vectorstore"
)

type testServer struct {
	app      *bootstrap.App
	router   *gin.Engine
	chat     *testutil.FakeChat
	embedder *testutil.FakeEmbedder
	ingest   *app.IngestService
	repo     *repository.DocumentRepository
	dir      string
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	dir := t.TempDir()
	db := testutil.NewTestDB(t)
	store, err := vectorstore.New(dir + "/vectors")
	require.NoError(t, err)

	repo := repository.NewDocumentRepository(db)
	embedder := &testutil.FakeEmbedder{}
	chat := &testutil.FakeChat{}
	ingest := app.NewIngestService(repo, embedder, store, app.IngestConfig{ChunkSize: 300, ChunkOverlap: 30, Timeout: 5 * time.Second})
	answers := app.NewAnswerService(repo, embedder, chat, store, nil, app.AnswerConfig{TopK: 3, Timeout: 5 * time.Second})
	dispatcher := app.NewLocalDispatcher(ingest)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })
	documents := app.NewDocumentService(repo, dispatcher, dir+"/uploads", 1<<20)

	cfg := &config.Config{
		App:    config.AppConfig{Name: "docqa", Env: "test", GinMode: gin.TestMode, WebDir: dir},
		Auth:   config.AuthConfig{JWTSecret: secret},
		Ingest: config.IngestConfig{Dispatcher: "local"},
	}
	a := &bootstrap.App{
		Config:          cfg,
		DB:              db,
		Documents:       documents,
		Ingest:          ingest,
		Answers:         answers,
		LocalDispatcher: dispatcher,
		StartedAt:       time.Now(),
	}
	return &testServer{app: a, router: NewRouter(a), chat: chat, embedder: embedder, ingest: ingest, repo: repo, dir: dir}
}

func (s *testServer) readyDocument(t *testing.T, filename string, pages ...string) *model.Document {
	t.Helper()
	path := testutil.WritePDF(t, s.dir, filename, pages...)
	doc := &model.Document{Filename: filename, FilePath: path, Status: model.DocumentStatusUploaded}
	require.NoError(t, s.repo.Create(doc))
	got, err := s.ingest.Ingest(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusReady, got.Status)
	return got
}

func multipartUpload(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, router http.Handler, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestUpload_ThenPollUntilReady(t *testing.T) {
	s := newTestServer(t, "")

	status, env := do(t, s.router, multipartUpload(t, "/upload", "guide.pdf", testutil.MinimalPDF("Refunds take five business days.")))
	require.Equal(t, http.StatusOK, status, env.Message)

	var uploaded struct {
		DocumentID uint   `json:"document_id"`
		Status     string `json:"status"`
		Filename   string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &uploaded))
	assert.NotZero(t, uploaded.DocumentID)
	assert.Equal(t, "uploaded", uploaded.Status)
	assert.Equal(t, "guide.pdf", uploaded.Filename)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+jsonNumber(uploaded.DocumentID), nil)
		code, env := do(t, s.router, req)
		if code != http.StatusOK {
			return false
		}
		var doc model.Document
		return json.Unmarshal(env.Data, &doc) == nil && doc.Status == model.DocumentStatusReady
	}, 5*time.Second, 20*time.Millisecond)

	code, env := do(t, s.router, httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=ready", nil))
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Documents []model.Document `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Documents, 1)
	assert.Equal(t, 1, list.Documents[0].ChunkCount)
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t, "")

	tests := []struct {
		name     string
		filename string
		content  []byte
		status   int
		code     int
	}{
		{"no file", "", nil, http.StatusBadRequest, response.CodeBadRequest},
		{"not pdf extension", "notes.txt", []byte("%PDF-1.4"), http.StatusBadRequest, response.CodeNotPDF},
		{"not pdf content", "fake.pdf", []byte("<html></html>"), http.StatusBadRequest, response.CodeNotPDF},
		{"too large", "big.pdf", append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("a"), 1<<20)...), http.StatusRequestEntityTooLarge, response.CodeFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, s.router, multipartUpload(t, "/api/v1/documents", tt.filename, tt.content))
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestDocuments_GetErrors(t *testing.T) {
	s := newTestServer(t, "")

	status, env := do(t, s.router, httptest.NewRequest(http.MethodGet, "/api/v1/documents/abc", nil))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	status, env = do(t, s.router, httptest.NewRequest(http.MethodGet, "/api/v1/documents/77", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeDocumentNotFound, env.Code)

	status, _ = do(t, s.router, httptest.NewRequest(http.MethodGet, "/api/v1/documents?status=weird", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	s := newTestServer(t, "s3cret")

	status, env := do(t, s.router, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	token, err := jwtutil.IssueToken("s3cret", "tester", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _ = do(t, s.router, req)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, s.router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		App          string `json:"app"`
		Dependencies map[string]struct {
			OK      bool `json:"ok"`
			Enabled bool `json:"enabled"`
		} `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "docqa", body.App)
	assert.True(t, body.Dependencies["database"].OK)
	assert.False(t, body.Dependencies["redis"].Enabled)
	assert.False(t, body.Dependencies["rabbitmq"].Enabled)
}

func dialChat(t *testing.T, s *testServer, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	frame := readFrame(t, conn)
	require.Equal(t, "connection", frame["type"])
	assert.Equal(t, "Connected to Q&A Agent", frame["message"])
	assert.NotEmpty(t, frame["session_id"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// readFinal skips token frames and returns the next response or error frame,
// along with the concatenated tokens.
func readFinal(t *testing.T, conn *websocket.Conn) (map[string]interface{}, string) {
	t.Helper()
	var tokens strings.Builder
	for {
		frame := readFrame(t, conn)
		if frame["type"] == "token" {
			tokens.WriteString(frame["content"].(string))
			continue
		}
		return frame, tokens.String()
	}
}

func TestChat_AnswersWithSources(t *testing.T) {
	s := newTestServer(t, "")
	doc := s.readyDocument(t, "policy.pdf", "Refunds are issued within five business days.")
	conn := dialChat(t, s, "")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":        "message",
		"document_id": doc.ID,
		"question":    "How fast are refunds issued?",
	}))

	frame, streamed := readFinal(t, conn)
	require.Equal(t, "response", frame["type"], frame)
	answer := frame["answer"].(string)
	assert.Contains(t, answer, "Refunds are issued")
	assert.Equal(t, answer, streamed)

	sources := frame["sources"].([]interface{})
	require.NotEmpty(t, sources)
	first := sources[0].(map[string]interface{})
	assert.Equal(t, float64(doc.ID), first["document_id"])
	assert.Equal(t, "policy.pdf", first["filename"])
}

func TestChat_ErrorFramesKeepConnectionOpen(t *testing.T) {
	s := newTestServer(t, "")
	pending := &model.Document{Filename: "p.pdf", FilePath: "/nowhere.pdf", Status: model.DocumentStatusUploaded}
	require.NoError(t, s.repo.Create(pending))
	conn := dialChat(t, s, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "Invalid JSON format", frame["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "Unknown message type: subscribe", frame["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"document_id": pending.ID, "question": ""}))
	frame, _ = readFinal(t, conn)
	assert.Equal(t, "validation", frame["code"])
	assert.Equal(t, "Question is required", frame["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"document_id": pending.ID, "question": "anything?"}))
	frame, _ = readFinal(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "not_ready", frame["code"])
	assert.Contains(t, frame["error"], "not ready")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"document_id": 999, "question": "anything?"}))
	frame, _ = readFinal(t, conn)
	assert.Equal(t, "not_found", frame["code"])
}

func TestChat_SecondQuestionWhileBusy(t *testing.T) {
	s := newTestServer(t, "")
	doc := s.readyDocument(t, "a.pdf", "The office opens at nine.")
	s.chat.Gate = make(chan struct{})
	conn := dialChat(t, s, "")

	ask := map[string]interface{}{"document_id": doc.ID, "question": "When does the office open?"}
	require.NoError(t, conn.WriteJSON(ask))
	require.NoError(t, conn.WriteJSON(ask))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "busy", frame["code"])

	close(s.chat.Gate)
	frame, _ = readFinal(t, conn)
	assert.Equal(t, "response", frame["type"])
	assert.Equal(t, 1, s.chat.Calls())
}

func TestChat_TokenViaQueryParam(t *testing.T) {
	s := newTestServer(t, "s3cret")
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := jwtutil.IssueToken("s3cret", "tester", time.Hour)
	require.NoError(t, err)
	dialChat(t, s, "?token="+token)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestChat_BackToBackQuestionsGetOrderedReplies(t *testing.T) {
	s := newTestServer(t, "")
	doc := s.readyDocument(t, "hours.pdf", "The office opens at nine and closes at five.")
	conn := dialChat(t, s, "")

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"document_id": doc.ID,
			"question":    "When does the office open?",
			"top_k":       i + 1,
		}))
		frame, streamed := readFinal(t, conn)
		require.Equal(t, "response", frame["type"], "question %d: %v", i, frame)
		assert.Equal(t, frame["answer"], streamed)
	}
	assert.Equal(t, 5, s.chat.Calls())
}
