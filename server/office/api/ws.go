package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonlog "office_server/server/common/log"
	"office_server/server/office/domain"
)

const (
	sendQueueSize  = 256
	maxMessageSize = 512 << 10
	readTimeout    = 90 * time.Second
	pingInterval   = 54 * time.Second
	writeTimeout   = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// wsSink is the bounded outbound queue of one socket. Send never blocks: a
// full queue refuses the event and the office drops the session.
type wsSink struct {
	mu     sync.Mutex
	closed bool
	send   chan domain.Event
	done   chan struct{}
}

func newWSSink(size int) *wsSink {
	return &wsSink{send: make(chan domain.Event, size), done: make(chan struct{})}
}

func (s *wsSink) Send(ev domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

func (s *wsSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (h *Handler) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=office_ws action=upgrade status=failed remote=%s error=%v", c.ClientIP(), err)
		return
	}
	sink := newWSSink(sendQueueSize)
	sessionID := h.office.Connect(sink)
	commonlog.Infof("event=office_ws action=connect status=ok session_id=%s remote=%s", sessionID, c.ClientIP())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writePump(conn, sink)
	}()

	if token, ok := wsAccessToken(c); ok {
		if _, err := h.identify(sessionID, token); err != nil {
			h.office.Reply(sessionID, domain.NewError("", err, time.Now().UTC()))
		}
	}
	h.readPump(c, conn, sessionID, sink)

	h.office.Disconnect(sessionID)
	sink.Close()
	<-writerDone
	commonlog.Infof("event=office_ws action=disconnect status=ok session_id=%s", sessionID)
}

func (h *Handler) readPump(c *gin.Context, conn *websocket.Conn, sessionID string, sink *wsSink) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ctx := c.Request.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				commonlog.Debugf("event=office_ws action=read status=closed session_id=%s error=%v", sessionID, err)
			}
			return
		}
		select {
		case <-sink.done:
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		cmd, err := domain.DecodeCommand(raw)
		if err != nil {
			h.office.Reply(sessionID, domain.NewError(requestIDOf(raw), err, time.Now().UTC()))
			h.metrics.Command("unknown", domain.Reason(err))
			continue
		}
		h.handleCommand(ctx, sessionID, cmd)
	}
}

// writePump owns every write on the socket. Once the sink is closed it
// flushes what is already queued and closes the connection.
func writePump(conn *websocket.Conn, sink *wsSink) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-sink.send:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sink.done:
			for {
				select {
				case ev := <-sink.send:
					if err := writeEvent(conn, ev); err != nil {
						return
					}
				default:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(ev)
}

func requestIDOf(raw []byte) string {
	var probe struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.RequestID
}

func wsAccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		return "", false
	}
	return token, true
}
