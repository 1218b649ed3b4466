// Package ws はジョブIDごとの WebSocket 接続を管理します。
// 接続は session.Registry に登録され、進捗スナップショットは接続ごとの送信キュー経由で書き込まれます。
package ws

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/progress"
	"github.com/yourusername/pdf-squeeze/internal/session"
)

const (
	defaultPingInterval = 5 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 32
	maxMessageBytes     = 4 << 10
)

// Options はハートビートと送信キューの設定です。ゼロ値の項目は既定値になります。
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = defaultPongTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	return o
}

// Handler は GET /ws を処理します。
type Handler struct {
	registry *session.Registry
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(registry *session.Registry, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	h := &Handler{
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeWS は接続をアップグレードし、切断されるまでブロックします。
func (h *Handler) ServeWS(c *gin.Context) {
	jobID, err := resolveJobID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ジョブIDの形式が正しくありません。",
		})
		return
	}
	c.Set(logging.JobIDKey, jobID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		h.logger.Debug("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	newConnection(h, conn, jobID).run()
}

func resolveJobID(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return progress.NewJobID(), nil
	}
	return progress.ParseJobID(raw)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// connection は1本の WebSocket 接続です。書き込みは writeLoop だけが行います。
type connection struct {
	h      *Handler
	conn   *websocket.Conn
	jobID  string
	outbox *session.Outbox
	state  progress.Status
	logger *zap.Logger
}

func newConnection(h *Handler, conn *websocket.Conn, jobID string) *connection {
	return &connection{
		h:      h,
		conn:   conn,
		jobID:  jobID,
		outbox: session.NewOutbox(h.opts.SendBuffer),
		state:  progress.StatusConnecting,
		logger: h.logger.With(zap.String("job_id", jobID)),
	}
}

func (c *connection) run() {
	// Connected は登録前にキューへ積み、パイプラインの配信より必ず先に届ける
	payload, err := progress.Encode(c.jobID, progress.JobSnapshot{
		JobID:  c.jobID,
		Files:  []progress.FileTask{},
		Status: progress.StatusConnected,
	})
	if err != nil {
		c.logger.Warn("failed to encode connected snapshot", zap.Error(err))
	} else {
		c.outbox.Send(payload)
	}

	if prev := c.h.registry.Register(c.jobID, c.outbox); prev != nil {
		prev.Close()
		c.logger.Info("superseded previous connection")
	}
	c.transition(progress.StatusConnected)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.readLoop()

	c.h.registry.Release(c.jobID, c.outbox)
	c.outbox.Close()
	<-writerDone
	_ = c.conn.Close()
	c.transition(progress.StatusDisconnected)
	if dropped := c.outbox.Dropped(); dropped > 0 {
		c.logger.Warn("dropped queued snapshots", zap.Int("dropped", dropped))
	}
}

func (c *connection) transition(next progress.Status) {
	c.logger.Debug("connection state", zap.String("from", string(c.state)), zap.String("to", string(next)))
	c.state = next
}

func (c *connection) extendDeadline() error {
	c.h.registry.Touch(c.jobID)
	return c.conn.SetReadDeadline(time.Now().Add(c.h.opts.PongTimeout))
}

// readLoop は切断・期限切れ・プロトコルエラーまで受信を続けます。
func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		return c.extendDeadline()
	})
	c.conn.SetPingHandler(func(data string) error {
		if err := c.extendDeadline(); err != nil {
			return err
		}
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.h.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("connection closed", zap.Error(err))
			} else {
				c.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		_ = c.extendDeadline()

		switch messageType {
		case websocket.TextMessage:
			c.logger.Debug("ignored client message", zap.Int("bytes", len(data)))
		case websocket.BinaryMessage:
			c.closeWith(websocket.CloseUnsupportedData, "binary messages are not supported")
			return
		}
	}
}

// writeLoop は送信キューと ping を書き込みます。キューが閉じられたら close フレームを送って接続を閉じます。
func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.outbox.Messages():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.h.opts.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-c.outbox.Done():
			c.closeWith(websocket.CloseNormalClosure, "")
			_ = c.conn.Close()
			return
		}
	}
}

func (c *connection) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.h.opts.WriteTimeout))
}
