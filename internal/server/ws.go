package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/swarm/internal/broadcast"
	"github.com/ShayCichocki/swarm/pkg/models"
)

// ErrInvalidCommand is returned for push channel frames that cannot be acted on.
var ErrInvalidCommand = errors.New("invalid command")

// Client command types.
const (
	CommandStartSwarm  = "start-swarm"
	CommandCancelSwarm = "cancel-swarm"
	CommandPing        = "ping"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	replyBuffer    = 16
)

// Command is a client frame on the push channel.
type Command struct {
	Type                string               `json:"type"`
	SessionID           string               `json:"sessionId,omitempty"`
	Prompt              string               `json:"prompt,omitempty"`
	Mode                models.Mode          `json:"mode,omitempty"`
	Intent              string               `json:"intent,omitempty"`
	Priority            int                  `json:"priority,omitempty"`
	IdempotencyKey      string               `json:"idempotencyKey,omitempty"`
	PreferredProvider   string               `json:"preferredProvider,omitempty"`
	SelectionMode       models.SelectionMode `json:"agentSelectionMode,omitempty"`
	Attachments         []models.Attachment  `json:"attachments,omitempty"`
	ConfidenceThreshold int                  `json:"confidenceThreshold,omitempty"`
	RunID               string               `json:"runId,omitempty"`
}

// ParseCommand decodes and validates a client frame. Every failure wraps
// ErrInvalidCommand.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidCommand, err)
	}

	switch cmd.Type {
	case CommandPing:
		return cmd, nil
	case CommandCancelSwarm:
		if cmd.RunID == "" {
			return Command{}, fmt.Errorf("%w: runId is required", ErrInvalidCommand)
		}
		return cmd, nil
	case CommandStartSwarm:
	case "":
		return Command{}, fmt.Errorf("%w: type is required", ErrInvalidCommand)
	default:
		return Command{}, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
	}

	var missing []string
	if cmd.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if strings.TrimSpace(cmd.Prompt) == "" {
		missing = append(missing, "prompt")
	}
	if cmd.Mode == "" {
		missing = append(missing, "mode")
	}
	if len(missing) > 0 {
		return Command{}, fmt.Errorf("%w: missing %s", ErrInvalidCommand, strings.Join(missing, ", "))
	}
	if !cmd.Mode.Valid() {
		return Command{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidCommand, cmd.Mode)
	}
	if !cmd.SelectionMode.Valid() {
		return Command{}, fmt.Errorf("%w: unknown agentSelectionMode %q", ErrInvalidCommand, cmd.SelectionMode)
	}
	return cmd, nil
}

// Request converts a start-swarm command into a run request.
func (c Command) Request(owner string) models.RunRequest {
	return models.RunRequest{
		SessionID:           c.SessionID,
		Owner:               owner,
		Prompt:              c.Prompt,
		Mode:                c.Mode,
		Intent:              c.Intent,
		Priority:            c.Priority,
		IdempotencyKey:      c.IdempotencyKey,
		PreferredProvider:   c.PreferredProvider,
		SelectionMode:       c.SelectionMode,
		Attachments:         c.Attachments,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// errorFrame is the push channel error shape.
type errorFrame struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

func newErrorFrame(code, message string) errorFrame {
	return errorFrame{Type: "error", Error: ErrorBody{Code: code, Message: message}}
}

// wsSession is one push channel connection. Only writeLoop writes data
// frames; replies from the read loop go through out.
type wsSession struct {
	conn  *websocket.Conn
	sub   *broadcast.Subscription
	out   chan any
	done  chan struct{}
	owner string
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &wsSession{
		conn:  conn,
		sub:   s.feed.Subscribe(),
		out:   make(chan any, replyBuffer),
		done:  make(chan struct{}),
		owner: c.GetHeader(ownerHeader),
	}
	s.logger.Debug("push channel opened", "remote", conn.RemoteAddr().String())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(sess)
	}()

	s.readLoop(c.Request.Context(), sess)

	close(sess.done)
	sess.sub.Close()
	<-writerDone
	conn.Close()
	s.logger.Debug("push channel closed", "dropped", sess.sub.Dropped())
}

func (s *Server) readLoop(ctx context.Context, sess *wsSession) {
	conn := sess.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.ping))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("push channel read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.ping))

		cmd, err := ParseCommand(data)
		if err != nil {
			s.reply(sess, newErrorFrame(CodeInvalidCommand, err.Error()))
			continue
		}
		s.dispatch(ctx, sess, cmd)
	}
}

func (s *Server) dispatch(ctx context.Context, sess *wsSession, cmd Command) {
	switch cmd.Type {
	case CommandPing:
		s.reply(sess, broadcast.Event{Type: broadcast.KindPong, Timestamp: time.Now()})
	case CommandCancelSwarm:
		if !s.queue.CancelJob(cmd.RunID) {
			if _, err := s.queue.Get(ctx, cmd.RunID); err != nil {
				_, code := classify(err)
				s.reply(sess, newErrorFrame(code, err.Error()))
			}
		}
	case CommandStartSwarm:
		// run.accepted reaches this connection through the broadcaster.
		if _, err := s.queue.Enqueue(ctx, cmd.Request(sess.owner)); err != nil {
			_, code := classify(err)
			s.reply(sess, newErrorFrame(code, err.Error()))
		}
	}
}

func (s *Server) reply(sess *wsSession, v any) {
	select {
	case sess.out <- v:
	case <-sess.done:
	}
}

func (s *Server) writeLoop(sess *wsSession) {
	conn := sess.conn
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sess.sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				s.drain(sess)
				return
			}
			data, err := ev.Marshal()
			if err != nil {
				s.logger.Warn("failed to encode event", "type", ev.Type, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.fail(sess, err)
				return
			}
		case v := <-sess.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				s.fail(sess, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(sess, err)
				return
			}
		case <-sess.done:
			return
		}
	}
}

// fail closes the socket so the read loop unblocks, then keeps draining
// replies until the session ends.
func (s *Server) fail(sess *wsSession, err error) {
	s.logger.Debug("push channel write failed", "error", err)
	sess.conn.Close()
	s.drain(sess)
}

func (s *Server) drain(sess *wsSession) {
	for {
		select {
		case <-sess.out:
		case <-sess.done:
			return
		}
	}
}
