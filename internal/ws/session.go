package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ngqkhai/script-generator/internal/errs"
	"github.com/ngqkhai/script-generator/internal/jsoncodec"
)

const writeTimeout = 10 * time.Second

// session wraps one websocket connection. It owns the connection exclusively;
// the write mutex serialises frames from the read loop and broadcasts.
type session struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn}
}

// SendJSON writes one frame; sonic keeps the encoding consistent with the
// rest of the service.
func (s *session) SendJSON(v any) error {
	if s.closed.Load() {
		return errs.ErrSessionNotDeliverable
	}

	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

func (s *session) Deliverable() bool {
	return !s.closed.Load()
}

func (s *session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	return s.conn.Close()
}
