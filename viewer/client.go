package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"

	"webkvm/codec"
	"webkvm/config"
	"webkvm/control"
	"webkvm/sdriver"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 5 * time.Second
	sendQueue    = 32
)

var ErrClientClosed = errors.New("viewer: client closed")

// Options select what the client asks the server for on connect.
type Options struct {
	Monitor  int
	Codec    string
	Audio    bool
	Encrypt  bool
	Token    string
	Adaptive bool
	WebRTC   bool
	Block    codec.BlockDecoder
}

type outMsg struct {
	typ  int
	data []byte
}

// Client is one viewer connection: a websocket carrying frames and
// control messages, an optional WebRTC data channel for frames, the render
// pipeline and the quality feedback loop.
type Client struct {
	cfg     config.ViewerConfig
	opts    Options
	conn    *websocket.Conn
	log     logging.LeveledLogger
	logf    logging.LoggerFactory
	sched   *RenderScheduler
	disp    *Dispatcher
	quality *QualityController
	send    chan outMsg
	rtc     *rtcLink

	mu         sync.Mutex
	streamInfo control.Message
	serverInfo control.Message
	monitors   []sdriver.MonitorInfo
	tier       string
	rtt        time.Duration
	lastKeyReq time.Time
	answers    chan string
}

// StreamURL builds the websocket URL for a server base address such as
// "http://host:8079".
func StreamURL(base string, opts Options) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("monitor", strconv.Itoa(opts.Monitor))
	if opts.Codec != "" {
		q.Set("codec", opts.Codec)
	}
	q.Set("audio", boolParam(opts.Audio))
	q.Set("encrypt", boolParam(opts.Encrypt))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Dial connects to a server and prepares the pipeline. Call Run to start
// receiving.
func Dial(ctx context.Context, base string, cfg config.ViewerConfig, opts Options, painter Painter, lf logging.LoggerFactory) (*Client, error) {
	target, err := StreamURL(base, opts)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return newClient(conn, cfg, opts, painter, lf), nil
}

func newClient(conn *websocket.Conn, cfg config.ViewerConfig, opts Options, painter Painter, lf logging.LoggerFactory) *Client {
	dec := &Decoder{Block: opts.Block}
	c := &Client{
		cfg:     cfg,
		opts:    opts,
		conn:    conn,
		logf:    lf,
		log:     lf.NewLogger("viewer"),
		quality: NewQualityController(cfg, opts.Adaptive),
		send:    make(chan outMsg, sendQueue),
		answers: make(chan string, 1),
	}
	c.sched = NewRenderScheduler(c.quality.Depth(), cfg.PaintInterval, dec, painter, lf.NewLogger("render"))
	c.sched.OnDecodeError(c.decodeFailed)
	c.disp = NewDispatcher(c.sched, c.log)
	return c
}

// Run pumps the connection until ctx ends or the server goes away.
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.sched.Run(ctx)
		return nil
	})
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })
	g.Go(func() error { return c.feedbackLoop(ctx) })
	if c.opts.WebRTC {
		g.Go(func() error {
			if err := c.upgradeWebRTC(ctx); err != nil {
				c.log.Warnf("webrtc upgrade failed, staying on websocket: %v", err)
			}
			return nil
		})
	}
	err := g.Wait()
	c.mu.Lock()
	if c.rtc != nil {
		c.rtc.close()
		c.rtc = nil
	}
	c.mu.Unlock()
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClientClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		switch typ {
		case websocket.BinaryMessage:
			c.disp.Dispatch(msg)
		case websocket.TextMessage:
			c.handleControl(msg)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return ctx.Err()
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(msg.typ, msg.data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// feedbackLoop evaluates quality, applies the queue depth and pings.
func (c *Client) feedbackLoop(ctx context.Context) error {
	c.queue(control.MustEncode(c.quality.Message(0)))
	c.ping()

	tick := time.NewTicker(c.cfg.QualityInterval)
	defer tick.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	c.quality.Evaluate(c.sched.Stats(), time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			c.ping()
		case now := <-tick.C:
			m, changed := c.quality.Evaluate(c.sched.Stats(), now)
			if !changed {
				continue
			}
			c.sched.SetDepth(c.quality.Depth())
			c.log.Infof("quality %s: avg %v, drop %.1f%%, %.1f fps", c.quality.Level(), m.AvgProcessing, m.DropRate*100, m.FPS)
			c.queue(control.MustEncode(c.quality.Message(m.DropRate)))
		}
	}
}

func (c *Client) ping() {
	c.queue(control.MustEncode(control.Message{Type: control.MSG_TYPE_PING, Timestamp: time.Now().UnixMilli()}))
}

// queue hands a control message to the writer without blocking.
func (c *Client) queue(msg []byte) bool {
	return c.enqueue(outMsg{typ: websocket.TextMessage, data: msg})
}

func (c *Client) enqueue(m outMsg) bool {
	select {
	case c.send <- m:
		return true
	default:
		c.log.Warnf("send queue full, dropping %d byte message", len(m.data))
		return false
	}
}

func (c *Client) handleControl(raw []byte) {
	m, err := control.Decode(raw)
	if err != nil {
		c.log.Warnf("control: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m.Type {
	case control.MSG_TYPE_PONG:
		c.rtt = time.Since(time.UnixMilli(m.Timestamp))
	case control.MSG_TYPE_STREAM_INFO:
		c.streamInfo = m
		c.tier = m.Tier
		c.log.Infof("stream %dx%d codec %s tier %s", m.Width, m.Height, m.Codec, m.Tier)
	case control.MSG_TYPE_TIER:
		c.tier = m.Tier
		c.log.Infof("server tier now %s", m.Tier)
	case control.MSG_TYPE_SERVER_INFO:
		c.serverInfo = m
	case control.MSG_TYPE_MONITORS:
		c.monitors = m.Monitors
	case control.MSG_TYPE_ANSWER:
		select {
		case c.answers <- m.SDP:
		default:
		}
	case control.MSG_TYPE_ERROR:
		c.log.Errorf("server: %s", m.Message)
	}
}

// decodeFailed runs on the decode goroutine.
func (c *Client) decodeFailed(err error) {
	if !wantsKeyframe(err) {
		return
	}
	c.mu.Lock()
	now := time.Now()
	due := now.Sub(c.lastKeyReq) >= c.cfg.KeyframeRequestGap
	if due {
		c.lastKeyReq = now
	}
	c.mu.Unlock()
	if due {
		c.RequestKeyframe()
	}
}

func (c *Client) RequestKeyframe() {
	c.queue(control.MustEncode(control.Message{Type: control.MSG_TYPE_REQUEST_KEYFRAME}))
}

// SendInput relays one input event to the server.
func (c *Client) SendInput(e sdriver.Event) error {
	raw, err := sdriver.MarshalEvent(e)
	if err != nil {
		return err
	}
	if !c.enqueue(outMsg{typ: websocket.BinaryMessage, data: raw}) {
		return errors.New("viewer: send queue full")
	}
	return nil
}

// ClientStats summarises the connection.
type ClientStats struct {
	SchedulerStats
	DispatchErrors uint64
	Level          string
	Tier           string
	RTT            time.Duration
	Width          int
	Height         int
}

func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientStats{
		SchedulerStats: c.sched.Stats(),
		DispatchErrors: c.disp.Errors(),
		Level:          c.quality.Level().String(),
		Tier:           c.tier,
		RTT:            c.rtt,
		Width:          c.streamInfo.Width,
		Height:         c.streamInfo.Height,
	}
}

func (c *Client) Monitors() []sdriver.MonitorInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdriver.MonitorInfo(nil), c.monitors...)
}
