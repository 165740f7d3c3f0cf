package relay

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/stamphub/internal/config"
	"github.com/codefionn/stamphub/internal/hub"
	"github.com/codefionn/stamphub/internal/protocol"
	"github.com/codefionn/stamphub/internal/stamp"
)

// testEngine builds a stamp engine over temp directories with a single
// "tiger" foreground icon. Run is never started; jobs just accumulate.
func testEngine(t *testing.T, h *hub.Hub) *stamp.Engine {
	t.Helper()

	root := t.TempDir()
	background := filepath.Join(root, "background.png")
	if err := os.WriteFile(background, []byte("png"), 0644); err != nil {
		t.Fatalf("failed to write background: %v", err)
	}
	fgDir := filepath.Join(root, "foregrounds")
	if err := os.Mkdir(fgDir, 0755); err != nil {
		t.Fatalf("failed to create foregrounds dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(fgDir, "tiger.png"), []byte("png"), 0644); err != nil {
		t.Fatalf("failed to write foreground: %v", err)
	}
	outDir := filepath.Join(root, "outputs")
	if err := os.Mkdir(outDir, 0755); err != nil {
		t.Fatalf("failed to create outputs dir: %v", err)
	}

	engine, err := stamp.New(config.GimpSettings{
		Enabled:               true,
		SessionPort:           11859,
		BackgroundImgPath:     background,
		ForegroundImgsDirPath: fgDir,
		OutputImgsDirPath:     outDir,
		OutputImgExtension:    "jpg",
	}, h)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return engine
}

func TestHandleFrameStampWithoutEngineIsFatal(t *testing.T) {
	h := hub.New()
	s := NewSession(h, nil, h.Register(), nil)

	if _, err := s.handleFrame("STAMP|tiger||0"); err == nil {
		t.Fatal("expected error when compositing is disabled")
	}
	if _, err := s.handleFrame("STAMP_CLEAR"); err == nil {
		t.Fatal("expected error when compositing is disabled")
	}
}

func TestHandleFrameStampUnknownIconIsFatal(t *testing.T) {
	h := hub.New()
	client := h.Register()
	s := NewSession(h, testEngine(t, h), client, nil)

	if _, err := s.handleFrame("STAMP|lion|1,2;3,4|0"); err == nil {
		t.Fatal("expected error for unknown icon")
	}
}

func TestHandleFrameStampEnqueuesJob(t *testing.T) {
	h := hub.New()
	client := h.Register()
	engine := testEngine(t, h)
	s := NewSession(h, engine, client, nil)

	done, err := s.handleFrame("STAMP|tiger|3,-2;0,5|0")
	if err != nil {
		t.Fatalf("stamp frame rejected: %v", err)
	}
	if done {
		t.Fatal("stamp must not end the session")
	}
	if got := engine.QueuedJobs(); got != 1 {
		t.Fatalf("expected 1 queued job, got %d", got)
	}
}

func TestHandleFrameStampUnknownReceiverIsFatal(t *testing.T) {
	h := hub.New()
	client := h.Register()
	engine := testEngine(t, h)
	s := NewSession(h, engine, client, nil)

	if _, err := s.handleFrame("STAMP|tiger||99"); err == nil {
		t.Fatal("expected error for unregistered receiver")
	}
	if got := engine.QueuedJobs(); got != 0 {
		t.Fatalf("expected no queued jobs, got %d", got)
	}
}

func TestHandleFrameLeaveEndsSession(t *testing.T) {
	h := hub.New()
	client := h.Register()
	s := NewSession(h, nil, client, nil)

	done, err := s.handleFrame("LEAVE")
	if err != nil {
		t.Fatalf("leave rejected: %v", err)
	}
	if !done {
		t.Fatal("leave must end the session")
	}
	if h.Deliver(client.ID, "MSG|x") {
		t.Fatal("client should be removed from the registry")
	}
}

func TestHandleFrameSelfTargetIsFatal(t *testing.T) {
	h := hub.New()
	client := h.Register()
	s := NewSession(h, nil, client, nil)

	if _, err := s.handleFrame("MSG|0|hello"); err == nil {
		t.Fatal("expected error for self-targeted message")
	}
}

// testClient is one dialed websocket connection in the integration test.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, url string) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(frame string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) recv() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

func (c *testClient) expect(frame string) {
	c.t.Helper()
	if got := c.recv(); got != frame {
		c.t.Fatalf("expected frame %q, got %q", frame, got)
	}
}

func TestRelayEndToEnd(t *testing.T) {
	h := hub.New()
	srv := NewServer("127.0.0.1:0", h, nil, "", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	// Connections are serialized by waiting for each WELCOME so the
	// registration order is deterministic.
	c0 := dialClient(t, url)
	c0.expect("WELCOME|0|0")
	c1 := dialClient(t, url)
	c1.expect("WELCOME|1|0,1")
	c0.expect("JOIN|1")
	c2 := dialClient(t, url)
	c2.expect("WELCOME|2|0,1,2")
	c0.expect("JOIN|2")
	c1.expect("JOIN|2")

	// Broadcast reaches everyone but the sender.
	c0.send("MSG|A|hi")
	c1.expect("MSG|hi")
	c2.expect("MSG|hi")

	// Client 1 leaves and redirects its traffic to client 2.
	c1.send("LEAVE|2")
	c0.expect("LEAVE|1")
	c2.expect("LEAVE|1")

	// Messages addressed to the departed client follow the redirect.
	c0.send("MSG|1|ping")
	c2.expect("MSG|ping")

	// Targeted delivery with a payload containing the separator.
	c2.send("MSG|0|a|b")
	c0.expect("MSG|a|b")
}

func TestRelayClosesOnProtocolViolation(t *testing.T) {
	h := hub.New()
	srv := NewServer("127.0.0.1:0", h, nil, "", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	c0 := dialClient(t, url)
	c0.expect("WELCOME|0|0")
	c1 := dialClient(t, url)
	c1.expect("WELCOME|1|0,1")
	c0.expect("JOIN|1")

	// Self-targeted messages are a protocol violation; the server drops
	// the offending connection without disturbing anyone else.
	c0.send("MSG|0|oops")
	c0.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c0.conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}

	// The surviving client keeps working and new clients can still join.
	c2 := dialClient(t, url)
	c2.expect("WELCOME|2|1,2")
	c1.expect("JOIN|2")
	c1.send("MSG|A|still here")
	c2.expect("MSG|still here")
	c1.send("MSG|2|hello")
	c2.expect("MSG|hello")
}

func TestLeaveDrainsPendingFrames(t *testing.T) {
	h := hub.New()
	srv := NewServer("127.0.0.1:0", h, nil, "", "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	c0 := dialClient(t, url)
	c0.expect("WELCOME|0|0")

	// Everything enqueued before the departure must still reach the
	// departing client, in order, before the connection closes.
	const pending = 2000
	for i := 0; i < pending; i++ {
		if !h.Deliver(0, protocol.Message(strconv.Itoa(i))) {
			t.Fatalf("delivery %d refused", i)
		}
	}
	c0.send("LEAVE")

	for i := 0; i < pending; i++ {
		c0.expect("MSG|" + strconv.Itoa(i))
	}

	// The outbox is drained; the next read observes the close.
	c0.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c0.conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after the outbox drained")
	}
}
