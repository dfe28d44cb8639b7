package webservice

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"webkvm/control"
	sagent "webkvm/streamAgent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsTransport is the session's view of the websocket: binary messages for
// frames, text for control.
type wsTransport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (t *wsTransport) write(typ int, b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	return t.conn.WriteMessage(typ, b)
}

func (t *wsTransport) WriteFrame(b []byte) error {
	return t.write(websocket.BinaryMessage, b)
}

func (t *wsTransport) WriteControl(b []byte) error {
	return t.write(websocket.TextMessage, b)
}

func (t *wsTransport) close(code int, reason string) {
	t.mu.Lock()
	t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	t.mu.Unlock()
	t.conn.Close()
}

type streamParams struct {
	monitor int
	format  sagent.Format
	audio   bool
	encrypt bool
}

func (wm *WebMaster) parseStreamParams(c *gin.Context) (streamParams, error) {
	p := streamParams{monitor: wm.cfg.Capture.DefaultMonitor}
	if v := c.Query("monitor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid monitor %q", v)
		}
		p.monitor = n
	}
	format, err := sagent.ParseFormat(c.Query("codec"))
	if err != nil {
		return p, err
	}
	p.format = format
	p.audio = c.Query("audio") == "1"
	p.encrypt = c.Query("encrypt") == "1"
	return p, nil
}

// handleStreamWS upgrades and streams one monitor until either side goes
// away.
// GET /ws?monitor=0&codec=auto&audio=0&encrypt=0
func (wm *WebMaster) handleStreamWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wm.log.Warnf("websocket upgrade: %v", err)
		return
	}
	t := &wsTransport{conn: conn, timeout: wm.cfg.Session.WriteTimeout}

	params, err := wm.parseStreamParams(c)
	if err != nil {
		wm.rejectStream(t, err)
		return
	}
	if err := wm.greet(t); err != nil {
		wm.log.Warnf("greeting %s: %v", c.ClientIP(), err)
		conn.Close()
		return
	}
	if params.encrypt && !wm.encrypted() {
		t.WriteControl(control.Error("encryption requested but the server has no TLS certificate"))
	}
	if params.audio && !wm.driver.Capabilities().CanAudio {
		params.audio = false
	}

	s, err := wm.registry.StartSession(t, params.monitor, params.format, params.audio,
		sagent.WithEncrypted(wm.encrypted()))
	if err != nil {
		wm.rejectStream(t, err)
		return
	}
	wm.log.Infof("client %s streaming monitor %d as session %s", c.ClientIP(), params.monitor, s.ID)

	var g errgroup.Group
	g.Go(func() error {
		defer s.Close()
		return wm.readLoop(conn, s)
	})
	g.Go(func() error {
		<-s.Done()
		t.close(websocket.CloseNormalClosure, "")
		return nil
	})
	err = g.Wait()
	if wm.WebRTCManager != nil {
		wm.WebRTCManager.Detach(s.ID)
	}
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		wm.log.Debugf("session %s: %v", s.ID, err)
	}
	wm.log.Infof("client %s disconnected from session %s", c.ClientIP(), s.ID)
}

func (wm *WebMaster) rejectStream(t *wsTransport, err error) {
	wm.log.Warnf("stream refused: %v", err)
	t.WriteControl(control.Error(err.Error()))
	t.close(websocket.ClosePolicyViolation, "stream refused")
}

// greet sends the monitor list and server info before the first frame.
func (wm *WebMaster) greet(t *wsTransport) error {
	mons, err := wm.driver.Monitors()
	if err != nil {
		return err
	}
	if err := t.WriteControl(control.MustEncode(control.Message{Type: control.MSG_TYPE_MONITORS, Monitors: mons})); err != nil {
		return err
	}
	return t.WriteControl(control.MustEncode(wm.serverInfo(len(mons))))
}

func (wm *WebMaster) serverInfo(monitors int) control.Message {
	return control.Message{
		Type:         control.MSG_TYPE_SERVER_INFO,
		Hostname:     wm.hostname,
		Version:      Version,
		MonitorCount: monitors,
	}
}

func (wm *WebMaster) readLoop(conn *websocket.Conn, s *sagent.Session) error {
	for {
		mType, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch mType {
		case websocket.BinaryMessage:
			if err := s.SendEvent(msg); err != nil {
				if errors.Is(err, sagent.ErrControlUnsupported) {
					continue
				}
				wm.log.Debugf("session %s: input: %v", s.ID, err)
			}
		case websocket.TextMessage:
			wm.handleControl(s, msg)
		}
	}
}

func (wm *WebMaster) handleControl(s *sagent.Session, raw []byte) {
	m, err := control.Decode(raw)
	if err != nil {
		wm.log.Debugf("session %s: %v", s.ID, err)
		s.SendControl(control.Error(err.Error()))
		return
	}
	switch m.Type {
	case control.MSG_TYPE_PING:
		s.SendControl(control.MustEncode(control.Message{Type: control.MSG_TYPE_PONG, Timestamp: m.Timestamp}))
	case control.MSG_TYPE_PONG:
	case control.MSG_TYPE_QUALITY_UPDATE:
		s.ApplyQuality(m)
		wm.log.Debugf("session %s: quality %d adaptive %v drop %.3f, tier %s", s.ID, m.Quality, m.Adaptive, m.DropRate, s.Tier())
	case control.MSG_TYPE_REQUEST_KEYFRAME:
		s.RequestKeyframe()
	case control.MSG_TYPE_OFFER:
		if wm.WebRTCManager == nil {
			s.SendControl(control.Error("webrtc is disabled"))
			return
		}
		go func() {
			answer, err := wm.WebRTCManager.Attach(s, m.SDP)
			if err != nil {
				wm.log.Warnf("session %s: webrtc: %v", s.ID, err)
				s.SendControl(control.Error(err.Error()))
				return
			}
			s.SendControl(control.MustEncode(control.Message{Type: control.MSG_TYPE_ANSWER, SDP: answer}))
		}()
	default:
		wm.log.Debugf("session %s: ignoring %s from client", s.ID, m.Type)
	}
}
