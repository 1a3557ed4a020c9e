package handler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docqa/internal/app"
	"docqa/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	busyMessage = "A question is already being answered, please wait for it to finish"
)

type ChatHandler struct {
	answers  *app.AnswerService
	upgrader websocket.Upgrader
}

func NewChatHandler(answers *app.AnswerService) *ChatHandler {
	return &ChatHandler{
		answers: answers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

type clientFrame struct {
	Type        string `json:"type"`
	DocumentID  uint   `json:"document_id"`
	DocumentIDs []uint `json:"document_ids"`
	Question    string `json:"question"`
	TopK        int    `json:"top_k"`
}

type connectionFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type tokenFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type answerFrame struct {
	Type    string         `json:"type"`
	Answer  string         `json:"answer"`
	Sources []model.Source `json:"sources"`
}

// errorFrame carries the reason in both "error" and "message" for older clients.
type errorFrame struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// chatSession is the state of one WebSocket connection. It answers one question at a
// time; closing the connection cancels the question in flight.
type chatSession struct {
	id      string
	conn    *websocket.Conn
	answers *app.AnswerService
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	busy    atomic.Bool
	wg      sync.WaitGroup
}

// Serve upgrades the request and runs the chat session until the client goes away.
func (h *ChatHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &chatSession{
		id:      id,
		conn:    conn,
		answers: h.answers,
		logger:  log.With().Str("session_id", id).Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.run()
}

func (s *chatSession) run() {
	s.logger.Info().Msg("chat session opened")
	defer func() {
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close()
		s.logger.Info().Msg("chat session closed")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.wg.Add(1)
	go s.keepAlive()

	if err := s.write(connectionFrame{Type: "connection", Message: "Connected to Q&A Agent", SessionID: s.id}); err != nil {
		return
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("chat session read failed")
			}
			return
		}
		s.receive(data)
	}
}

func (s *chatSession) receive(data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.writeError(kindValidation, "Invalid JSON format")
		return
	}
	if frame.Type == "" {
		frame.Type = "message"
	}
	if frame.Type != "message" {
		s.writeError(kindValidation, "Unknown message type: "+frame.Type)
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.writeError(kindBusy, busyMessage)
		return
	}

	ids := frame.DocumentIDs
	if frame.DocumentID != 0 {
		ids = append([]uint{frame.DocumentID}, ids...)
	}
	in := app.AskInput{DocumentIDs: ids, Question: frame.Question, TopK: frame.TopK}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		frame := s.answer(in)
		// the next question's frames queue behind this lock, so they follow the reply
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.busy.Store(false)
		if frame != nil {
			_ = s.writeLocked(frame)
		}
	}()
}

// answer runs the question and returns the final frame, or nil when the session is gone.
func (s *chatSession) answer(in app.AskInput) interface{} {
	start := time.Now()
	answer, err := s.answers.Ask(s.ctx, in, func(token string) error {
		return s.write(tokenFrame{Type: "token", Content: token})
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		info := describeError(err)
		s.logger.Warn().Err(err).Str("code", info.kind).Msg("question failed")
		return newErrorFrame(info.kind, info.message)
	}

	sources := answer.Sources
	if sources == nil {
		sources = []model.Source{}
	}
	s.logger.Info().Int("sources", len(sources)).Dur("took", time.Since(start)).Msg("question answered")
	return answerFrame{Type: "response", Answer: answer.Answer, Sources: sources}
}

func (s *chatSession) keepAlive() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *chatSession) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(v)
}

func (s *chatSession) writeLocked(v interface{}) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug().Err(err).Msg("chat session write failed")
		return err
	}
	return nil
}

func (s *chatSession) writeError(kind, message string) {
	_ = s.write(newErrorFrame(kind, message))
}

func newErrorFrame(kind, message string) errorFrame {
	return errorFrame{Type: "error", Error: message, Message: message, Code: kind}
}
