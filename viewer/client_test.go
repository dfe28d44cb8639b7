package viewer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkvm/codec"
	"webkvm/config"
	"webkvm/control"
	"webkvm/sdriver"
	"webkvm/wire"
)

// fakeServer accepts one viewer and records what it sends.
type fakeServer struct {
	mu       sync.Mutex
	controls []control.Message
	inputs   [][]byte
	query    string
	auth     string
	conn     chan *websocket.Conn
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	fs := &fakeServer{conn: make(chan *websocket.Conn, 1)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.query = r.URL.RawQuery
		fs.auth = r.Header.Get("Authorization")
		fs.mu.Unlock()
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conn <- c
		for {
			typ, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			fs.mu.Lock()
			if typ == websocket.BinaryMessage {
				fs.inputs = append(fs.inputs, msg)
			} else if m, err := control.Decode(msg); err == nil {
				fs.controls = append(fs.controls, m)
			}
			fs.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *fakeServer) sawControl(typ string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, m := range fs.controls {
		if m.Type == typ {
			return true
		}
	}
	return false
}

func (fs *fakeServer) Inputs() [][]byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([][]byte(nil), fs.inputs...)
}

func testViewerConfig() config.ViewerConfig {
	cfg := config.Default().Viewer
	cfg.PaintInterval = time.Millisecond
	cfg.KeyframeRequestGap = 0
	return cfg
}

func TestStreamURL(t *testing.T) {
	u, err := StreamURL("http://host:8079", Options{Monitor: 1, Codec: "rle", Audio: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "ws://host:8079/ws?"))
	assert.Contains(t, u, "monitor=1")
	assert.Contains(t, u, "codec=rle")
	assert.Contains(t, u, "audio=1")
	assert.Contains(t, u, "encrypt=0")

	u, err = StreamURL("https://host", Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "wss://host/ws?"))

	_, err = StreamURL("ftp://host", Options{})
	assert.Error(t, err)
}

func TestClientRendersFramesAndSendsFeedback(t *testing.T) {
	fs, srv := newFakeServer(t)
	painter := &recordingPainter{}
	lf := config.Default().LoggerFactory(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, srv.URL, testViewerConfig(), Options{Monitor: 0, Codec: "zcpy", Token: "tok", Adaptive: true}, painter, lf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	server := <-fs.conn
	fs.mu.Lock()
	assert.Equal(t, "Bearer tok", fs.auth)
	assert.Contains(t, fs.query, "codec=zcpy")
	fs.mu.Unlock()

	require.NoError(t, server.WriteMessage(websocket.TextMessage, control.MustEncode(control.Message{
		Type: control.MSG_TYPE_STREAM_INFO, Width: 4, Height: 2, Codec: "zcpy", Tier: "ultra",
	})))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, control.MustEncode(control.Message{
		Type: control.MSG_TYPE_MONITORS, Monitors: []sdriver.MonitorInfo{{ID: 0, Name: "main", Width: 4, Height: 2, Primary: true}},
	})))
	for seq := uint64(1); seq <= 3; seq++ {
		b, err := directFrame(seq, 4, 2, byte(seq)).Marshal()
		require.NoError(t, err)
		require.NoError(t, server.WriteMessage(websocket.BinaryMessage, b))
		require.Eventually(t, func() bool { return len(painter.Seqs()) == int(seq) }, 2*time.Second, 2*time.Millisecond)
	}
	assert.Equal(t, []uint64{1, 2, 3}, painter.Seqs())

	require.Eventually(t, func() bool {
		return fs.sawControl(control.MSG_TYPE_QUALITY_UPDATE) && fs.sawControl(control.MSG_TYPE_PING)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.SendInput(sdriver.KeyEvent{Action: sdriver.ACTION_DOWN, KeyCode: 65}))
	require.Eventually(t, func() bool { return len(fs.Inputs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev, err := sdriver.ParseEvent(fs.Inputs()[0])
	require.NoError(t, err)
	assert.Equal(t, sdriver.KeyEvent{Action: sdriver.ACTION_DOWN, KeyCode: 65}, ev)

	st := c.Stats()
	assert.Equal(t, "ultra", st.Tier)
	assert.Equal(t, 4, st.Width)
	assert.EqualValues(t, 3, st.Rendered)
	assert.Len(t, c.Monitors(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestClientRequestsKeyframeOnBrokenDelta(t *testing.T) {
	fs, srv := newFakeServer(t)
	lf := config.Default().LoggerFactory(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, srv.URL, testViewerConfig(), Options{}, &recordingPainter{}, lf)
	require.NoError(t, err)
	go c.Run(ctx)

	server := <-fs.conn
	b, err := (&wire.Frame{Kind: wire.KindLegacy, Encoding: wire.EncodingChangeList, Width: 2, Height: 2, Seq: 10,
		Payload: codec.EncodeChangeList(codec.DeltaRecord{})}).Marshal()
	require.NoError(t, err)
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, b))

	require.Eventually(t, func() bool { return fs.sawControl(control.MSG_TYPE_REQUEST_KEYFRAME) }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, c.Stats().DecodeErrors)
}

func TestClientDropsMalformedMessages(t *testing.T) {
	fs, srv := newFakeServer(t)
	lf := config.Default().LoggerFactory(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := Dial(ctx, srv.URL, testViewerConfig(), Options{}, &recordingPainter{}, lf)
	require.NoError(t, err)
	go c.Run(ctx)

	server := <-fs.conn
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0xAA, 0xBB, 0x01}))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	require.Eventually(t, func() bool { return c.Stats().DispatchErrors == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Stats().Received)
}
