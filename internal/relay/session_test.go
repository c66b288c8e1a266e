package relay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// newConnPair dials a WebSocket against a throwaway server and returns both
// ends: the server side (handed to the relay) and the remote peer.
func newConnPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialling test server: %v", err)
	}
	if resp != nil {
		resp.Body.Close() //nolint:errcheck // Test cleanup
	}
	t.Cleanup(func() { peer.Close() }) //nolint:errcheck // Test cleanup

	select {
	case server = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the connection never arrived")
	}
	return server, peer
}

// readFrame reads one text frame from a peer with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	//nolint:errcheck // Deadline errors surface via ReadMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return msg
}

// expectNoFrame asserts that nothing arrives within a short window.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	//nolint:errcheck // Deadline errors surface via ReadMessage
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

// mockSink records frames handed off for offline delivery.
type mockSink struct {
	mu     sync.Mutex
	queued map[string][][]byte
}

func newMockSink() *mockSink {
	return &mockSink{queued: make(map[string][][]byte)}
}

func (m *mockSink) Enqueue(_ context.Context, deviceID string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[deviceID] = append(m.queued[deviceID], append([]byte(nil), payload...))
}

func (m *mockSink) forDevice(deviceID string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued[deviceID]
}

// attachClient wires a full client subscription the way the router does:
// attach, connected frame, pumps.
func attachClient(t *testing.T, reg *Registry, sink CommandSink, deviceID string) (sub *ClientSubscription, peer *websocket.Conn) {
	t.Helper()

	server, peer := newConnPair(t)
	sub = NewClientSubscription(deviceID, server, testWSConfig(), reg, sink, nil)
	reg.AddSubscriber(sub)
	sub.Start()
	return sub, peer
}

// attachDevice wires a device session the way the router does: drain staging
// is the caller's business, then register and start.
func attachDevice(t *testing.T, reg *Registry, deviceID string) (sess *DeviceSession, peer *websocket.Conn) {
	t.Helper()

	server, peer := newConnPair(t)
	sess = NewDeviceSession(deviceID, server, testWSConfig(), reg, nil, nil)
	if prev := reg.RegisterSession(sess); prev != nil {
		prev.Close()
	}
	sess.Start()
	return sess, peer
}

func TestDeviceSession_RoundTripVerbatim(t *testing.T) {
	reg := NewRegistry()
	_, clientA := attachClient(t, reg, nil, "esp-1")
	_, clientB := attachClient(t, reg, nil, "esp-1")
	_, devicePeer := attachDevice(t, reg, "esp-1")

	payload := []byte(`{"temp_head":78.4,"flow":1.25,"note":"плато"}`)
	if err := devicePeer.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("device write: %v", err)
	}

	for _, peer := range []*websocket.Conn{clientA, clientB} {
		if got := readFrame(t, peer); !bytes.Equal(got, payload) {
			t.Errorf("client observed %q, want byte-identical %q", got, payload)
		}
	}
}

func TestDeviceSession_SubscriberIsolation(t *testing.T) {
	reg := NewRegistry()

	subA, _ := attachClient(t, reg, nil, "esp-1")
	_, clientB := attachClient(t, reg, nil, "esp-1")
	_, devicePeer := attachDevice(t, reg, "esp-1")

	// One subscriber going away mid-stream must not break the broadcast.
	subA.Close()

	payload := []byte(`{"temp_head":79.0}`)
	if err := devicePeer.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("device write: %v", err)
	}
	if got := readFrame(t, clientB); !bytes.Equal(got, payload) {
		t.Errorf("surviving client observed %q, want %q", got, payload)
	}
}

func TestClientSubscription_ForwardsToLiveSession(t *testing.T) {
	reg := NewRegistry()
	_, devicePeer := attachDevice(t, reg, "esp-1")
	_, clientPeer := attachClient(t, reg, nil, "esp-1")

	cmd := []byte(`{"type":"command","command":"stop"}`)
	if err := clientPeer.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("client write: %v", err)
	}

	if got := readFrame(t, devicePeer); !bytes.Equal(got, cmd) {
		t.Errorf("device received %q, want %q", got, cmd)
	}
}

func TestClientSubscription_OfflineForwardQueuesAndReportsError(t *testing.T) {
	reg := NewRegistry()
	sink := newMockSink()
	_, clientPeer := attachClient(t, reg, sink, "esp-1")

	cmd := []byte(`{"type":"command","command":"stop"}`)
	if err := clientPeer.WriteMessage(websocket.TextMessage, cmd); err != nil {
		t.Fatalf("client write: %v", err)
	}

	got := readFrame(t, clientPeer)
	if want := `{"type":"error","message":"Device offline"}`; string(got) != want {
		t.Errorf("client received %s, want %s", got, want)
	}

	queued := sink.forDevice("esp-1")
	if len(queued) != 1 || !bytes.Equal(queued[0], cmd) {
		t.Errorf("sink holds %v, want the forwarded command", queued)
	}
}

func TestDeviceSession_StagedFramesPrecedeForwards(t *testing.T) {
	reg := NewRegistry()
	_, clientPeer := attachClient(t, reg, nil, "esp-1")

	server, devicePeer := newConnPair(t)
	sess := NewDeviceSession("esp-1", server, testWSConfig(), reg, nil, nil)
	sess.Stage([][]byte{
		[]byte(`{"type":"command","command":"queued-1"}`),
		[]byte(`{"type":"command","command":"queued-2"}`),
	})
	reg.RegisterSession(sess)
	sess.Start()

	// A live forward racing the drain must never overtake staged frames.
	forwarded := []byte(`{"type":"command","command":"fresh"}`)
	if err := clientPeer.WriteMessage(websocket.TextMessage, forwarded); err != nil {
		t.Fatalf("client write: %v", err)
	}

	want := []string{
		`{"type":"command","command":"queued-1"}`,
		`{"type":"command","command":"queued-2"}`,
		`{"type":"command","command":"fresh"}`,
	}
	for i, w := range want {
		if got := readFrame(t, devicePeer); string(got) != w {
			t.Fatalf("frame %d = %s, want %s", i, got, w)
		}
	}
}

func TestDeviceSession_TeardownBroadcastsOfflineOnce(t *testing.T) {
	reg := NewRegistry()
	_, clientPeer := attachClient(t, reg, nil, "esp-1")
	sess, _ := attachDevice(t, reg, "esp-1")

	// Race an application-driven close against itself; teardown is
	// idempotent so subscribers hear exactly one offline notice.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Close()
		}()
	}
	wg.Wait()

	want := `{"type":"device_offline","deviceId":"esp-1"}`
	if got := readFrame(t, clientPeer); string(got) != want {
		t.Fatalf("client received %s, want %s", got, want)
	}
	expectNoFrame(t, clientPeer)

	if got := reg.Session("esp-1"); got != nil {
		t.Errorf("Session() after teardown = %v, want nil", got)
	}
	if got := sess.State(); got != SessionClosed {
		t.Errorf("session state = %v, want SessionClosed", got)
	}
}

func TestDeviceSession_MissedPongTearsDown(t *testing.T) {
	reg := NewRegistry()
	_, clientPeer := attachClient(t, reg, nil, "esp-1")

	cfg := testWSConfig()
	cfg.PingInterval = 1
	cfg.PongTimeout = 1

	server, devicePeer := newConnPair(t)
	sess := NewDeviceSession("esp-1", server, cfg, reg, nil, nil)
	reg.RegisterSession(sess)
	sess.Start()

	// Swallow pings so the broker never hears a pong. The peer must keep
	// reading for the replacement handler to run at all.
	devicePeer.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := devicePeer.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Ping goes out after one interval; the read deadline expires one
	// pong timeout later with no reply.
	deadline := time.Now().Add(5 * time.Second)
	for sess.State() != SessionClosed {
		if time.Now().After(deadline) {
			t.Fatal("session survived a missed pong")
		}
		time.Sleep(25 * time.Millisecond)
	}

	want := `{"type":"device_offline","deviceId":"esp-1"}`
	if got := readFrame(t, clientPeer); string(got) != want {
		t.Fatalf("client received %s, want %s", got, want)
	}
	if got := reg.Session("esp-1"); got != nil {
		t.Errorf("Session() after heartbeat teardown = %v, want nil", got)
	}
}

func TestDeviceSession_PeerDisconnectTearsDown(t *testing.T) {
	reg := NewRegistry()
	_, clientPeer := attachClient(t, reg, nil, "esp-1")
	sess, devicePeer := attachDevice(t, reg, "esp-1")

	devicePeer.Close() //nolint:errcheck // Simulated transport loss

	want := `{"type":"device_offline","deviceId":"esp-1"}`
	if got := readFrame(t, clientPeer); string(got) != want {
		t.Fatalf("client received %s, want %s", got, want)
	}

	// Teardown completes shortly after the read pump observes the close.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Session("esp-1") != nil {
		if time.Now().After(deadline) {
			t.Fatal("session still registered after peer disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sess.State(); got != SessionClosed {
		t.Errorf("session state = %v, want SessionClosed", got)
	}

	status, known := reg.Status("esp-1", time.Minute)
	if !known {
		t.Fatal("device forgotten after disconnect")
	}
	if status.Online {
		t.Error("device still online after disconnect")
	}
}

func TestDeviceSession_SupersessionNotifiesSubscribers(t *testing.T) {
	reg := NewRegistry()
	_, clientPeer := attachClient(t, reg, nil, "esp-1")

	attachDevice(t, reg, "esp-1")
	second, devicePeer := attachDevice(t, reg, "esp-1")

	// The superseded session announces its departure; the replacement
	// stays registered and keeps relaying.
	want := `{"type":"device_offline","deviceId":"esp-1"}`
	if got := readFrame(t, clientPeer); string(got) != want {
		t.Fatalf("client received %s, want %s", got, want)
	}

	if got := reg.Session("esp-1"); got != second {
		t.Fatalf("Session() = %v, want the superseding session", got)
	}

	payload := []byte(`{"temp_head":80.1}`)
	if err := devicePeer.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("device write: %v", err)
	}
	if got := readFrame(t, clientPeer); !bytes.Equal(got, payload) {
		t.Errorf("client observed %q after supersession, want %q", got, payload)
	}
}
