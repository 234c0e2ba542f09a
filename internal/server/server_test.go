package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lagoon-server/lagoon/internal/command"
	"github.com/lagoon-server/lagoon/internal/core"
	"github.com/lagoon-server/lagoon/internal/godot"
	"github.com/lagoon-server/lagoon/internal/player"
	"github.com/lagoon-server/lagoon/internal/plugin"
	"github.com/lagoon-server/lagoon/internal/protocol"
)

const testAdminID uint64 = 76561198000000099

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &core.Config{}
	cfg.Server.Name = "test server"
	cfg.Server.Admins = []uint64{testAdminID}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	commands := command.NewTable(logger)
	bus := plugin.NewBus(logger, commands)
	return New(cfg, logger, nil, bus, commands)
}

// testClient is the peer end of one server connection.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

// addTestConnection dials a short-lived local listener so both ends are real
// TCP sockets, registers the server side, and returns the client side.
func addTestConnection(t *testing.T, s *Server) (*Connection, *testClient) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error starting test listener: %s", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("error dialing test listener: %s", err)
	}

	serverConn, ok := <-accepted
	if !ok {
		t.Fatal("test listener closed before accepting")
	}

	c := NewConnection(serverConn)
	s.registry.Add(c)

	client := &testClient{conn: clientConn, reader: bufio.NewReader(clientConn)}
	t.Cleanup(func() {
		clientConn.Close()
		c.Close()
	})
	return c, client
}

func (tc *testClient) sendMeta(t *testing.T, request interface{}) {
	t.Helper()
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("error encoding meta request: %s", err)
	}
	if _, err := tc.conn.Write(protocol.EncodeFrame(protocol.MarkerMeta, body)); err != nil {
		t.Fatalf("error writing meta frame: %s", err)
	}
}

func (tc *testClient) sendGameplay(t *testing.T, packet *godot.Dictionary, target string) {
	t.Helper()
	envelope := godot.NewDictionary()
	envelope.SetString("payload", godot.Dict(packet))
	envelope.SetString("identity", godot.Int(1))
	envelope.SetString("target", godot.String(target))
	if _, err := tc.conn.Write(protocol.EncodeFrame(protocol.MarkerGameplay, godot.Marshal(godot.Dict(envelope)))); err != nil {
		t.Fatalf("error writing gameplay frame: %s", err)
	}
}

// readFrame reads one frame, failing the test if none arrives in time.
func (tc *testClient) readFrame(t *testing.T) protocol.Frame {
	t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.ReadFrame(tc.reader)
	if err != nil {
		t.Fatalf("error reading frame: %s", err)
	}
	return frame
}

// drain consumes every frame that arrives within a short window.
func (tc *testClient) drain(t *testing.T) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		tc.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		frame, err := protocol.ReadFrame(tc.reader)
		if err != nil {
			return frames
		}
		frames = append(frames, frame)
	}
}

// gameplayType decodes a gameplay frame and returns its payload's type field.
func gameplayType(t *testing.T, frame protocol.Frame) string {
	t.Helper()
	if frame.Marker != protocol.MarkerGameplay {
		return ""
	}
	value, err := godot.Unmarshal(frame.Payload)
	if err != nil {
		t.Fatalf("error decoding gameplay frame: %s", err)
	}
	payloadValue, _ := value.Dict().GetString("payload")
	return payloadValue.Dict().StringField("type")
}

func authenticateAs(t *testing.T, s *Server, client *testClient, steamID uint64, username string) {
	t.Helper()
	client.sendMeta(t, map[string]interface{}{
		"action":   "authenticate",
		"steam_id": steamID,
		"username": username,
	})
	s.sweep()

	frame := client.readFrame(t)
	var reply map[string]interface{}
	if err := json.Unmarshal(frame.Payload, &reply); err != nil {
		t.Fatalf("error decoding authenticate reply: %s", err)
	}
	if reply["action"] != "authenticate_response" || reply["status"] != "success" {
		t.Fatalf("unexpected authenticate reply: %v", reply)
	}
}

func TestPingReply(t *testing.T) {
	s := newTestServer(t)
	_, client := addTestConnection(t, s)

	before := time.Now().UnixMilli()
	client.sendMeta(t, map[string]string{"action": "ping"})
	s.sweep()

	frame := client.readFrame(t)
	if frame.Marker != protocol.MarkerMeta {
		t.Fatalf("expected meta frame, got marker %q", byte(frame.Marker))
	}
	var reply pongReply
	if err := json.Unmarshal(frame.Payload, &reply); err != nil {
		t.Fatalf("error decoding pong: %s", err)
	}
	if reply.Action != "pong" {
		t.Errorf("action = %q, want pong", reply.Action)
	}
	if reply.Timestamp < before {
		t.Errorf("timestamp %d predates the request (%d)", reply.Timestamp, before)
	}
}

func TestAuthenticateBindsIdentity(t *testing.T) {
	s := newTestServer(t)
	c, client := addTestConnection(t, s)

	authenticateAs(t, s, client, 76561198000000001, "alice")

	if !c.Authenticated() {
		t.Error("connection should be authenticated")
	}
	if c.SteamID() != 76561198000000001 || c.DisplayName() != "alice" {
		t.Errorf("identity = (%d, %q), want both fields bound together", c.SteamID(), c.DisplayName())
	}
	if p := s.FindPlayer("alice"); p == nil {
		t.Error("player should be on the roster")
	}

	types := make(map[string]bool)
	for _, frame := range client.drain(t) {
		types[gameplayType(t, frame)] = true
	}
	if !types["user_joined_weblobby"] {
		t.Error("join broadcast not delivered")
	}
	if !types["receive_weblobby"] {
		t.Error("roster snapshot not delivered")
	}
}

func TestAuthenticateTakeoverSupersedesOldConnection(t *testing.T) {
	s := newTestServer(t)
	oldConn, oldClient := addTestConnection(t, s)
	_, newClient := addTestConnection(t, s)

	authenticateAs(t, s, oldClient, 76561198000000001, "alice")
	oldClient.drain(t)

	authenticateAs(t, s, newClient, 76561198000000001, "alice")

	if _, present := s.registry.FindByConnectionID(oldConn.ID); present {
		t.Error("old connection should be removed from the registry")
	}
	bound, ok := s.registry.FindBySteamID(76561198000000001)
	if !ok {
		t.Fatal("identity should still be bound to a live connection")
	}
	if bound.ID == oldConn.ID {
		t.Error("identity should be bound to the new connection")
	}
	if got := len(s.Players()); got != 1 {
		t.Errorf("roster has %d entries, want exactly 1", got)
	}
}

func TestReauthenticateSameConnectionKeepsOneRosterEntry(t *testing.T) {
	s := newTestServer(t)
	_, client := addTestConnection(t, s)

	authenticateAs(t, s, client, 76561198000000001, "alice")
	client.drain(t)

	authenticateAs(t, s, client, 76561198000000001, "alice")

	if got := len(s.Players()); got != 1 {
		t.Errorf("roster has %d entries after re-authenticating, want 1", got)
	}
}

func TestReauthenticateRebindsToNewIdentity(t *testing.T) {
	s := newTestServer(t)
	c, client := addTestConnection(t, s)

	authenticateAs(t, s, client, 1, "alice")
	client.drain(t)

	authenticateAs(t, s, client, 2, "alice2")

	if c.SteamID() != 2 || c.DisplayName() != "alice2" {
		t.Errorf("identity = (%d, %q), want both fields rebound together", c.SteamID(), c.DisplayName())
	}
	if s.findPlayerBySteamID(1) != nil {
		t.Error("previous identity should be off the roster after rebinding")
	}
	if s.findPlayerBySteamID(2) == nil {
		t.Error("new identity should be on the roster")
	}
	if got := len(s.Players()); got != 1 {
		t.Errorf("roster has %d entries, want 1", got)
	}
}

func TestMembersReplyNeverEmpty(t *testing.T) {
	s := newTestServer(t)
	_, client := addTestConnection(t, s)

	client.sendMeta(t, map[string]string{"action": "members"})
	s.sweep()

	frame := client.readFrame(t)
	var reply membersReply
	if err := json.Unmarshal(frame.Payload, &reply); err != nil {
		t.Fatalf("error decoding members reply: %s", err)
	}
	if reply.Action != "members_response" {
		t.Errorf("action = %q, want members_response", reply.Action)
	}
	if len(reply.Members) == 0 {
		t.Fatal("members reply must never be empty")
	}
	placeholder := reply.Members[len(reply.Members)-1]
	if placeholder.SteamID != 0 || placeholder.Username != "Lagoon" {
		t.Errorf("trailing placeholder = %+v", placeholder)
	}
}

func TestRelayPeersExcludesSender(t *testing.T) {
	s := newTestServer(t)
	_, clientA := addTestConnection(t, s)
	_, clientB := addTestConnection(t, s)

	authenticateAs(t, s, clientA, 1, "alice")
	authenticateAs(t, s, clientB, 2, "bob")
	clientA.drain(t)
	clientB.drain(t)

	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("movement"))
	clientA.sendGameplay(t, packet, "peers")
	s.sweep()

	if frames := clientB.drain(t); len(frames) != 1 || gameplayType(t, frames[0]) != "movement" {
		t.Errorf("peer should receive exactly the relayed packet, got %d frames", len(frames))
	}
	if frames := clientA.drain(t); len(frames) != 0 {
		t.Errorf("sender should not receive its own peers-targeted packet, got %d frames", len(frames))
	}
}

func TestRelayAllIncludesSender(t *testing.T) {
	s := newTestServer(t)
	_, clientA := addTestConnection(t, s)
	_, clientB := addTestConnection(t, s)

	authenticateAs(t, s, clientA, 1, "alice")
	authenticateAs(t, s, clientB, 2, "bob")
	clientA.drain(t)
	clientB.drain(t)

	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("movement"))
	clientA.sendGameplay(t, packet, "all")
	s.sweep()

	for name, client := range map[string]*testClient{"sender": clientA, "peer": clientB} {
		frames := client.drain(t)
		if len(frames) != 1 || gameplayType(t, frames[0]) != "movement" {
			t.Errorf("%s should receive the all-targeted packet, got %d frames", name, len(frames))
		}
	}
}

func TestUnauthenticatedGameplayDropped(t *testing.T) {
	s := newTestServer(t)
	_, stranger := addTestConnection(t, s)
	_, clientB := addTestConnection(t, s)

	authenticateAs(t, s, clientB, 2, "bob")
	clientB.drain(t)

	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("movement"))
	stranger.sendGameplay(t, packet, "all")
	s.sweep()

	if frames := clientB.drain(t); len(frames) != 0 {
		t.Errorf("no relay should occur for unauthenticated senders, got %d frames", len(frames))
	}
	if got := s.registry.Len(); got != 2 {
		t.Errorf("dropping the frame should not disconnect anyone, registry has %d", got)
	}
}

func TestMalformedGameplayPayloadDoesNotDisconnect(t *testing.T) {
	s := newTestServer(t)
	c, client := addTestConnection(t, s)
	authenticateAs(t, s, client, 1, "alice")
	client.drain(t)

	// A frame that parses but whose body is not a valid variant costs only
	// that frame, not the connection.
	if _, err := client.conn.Write(protocol.EncodeFrame(protocol.MarkerGameplay, []byte{0xFF, 0xFF, 0xFF})); err != nil {
		t.Fatalf("error writing malformed frame: %s", err)
	}
	s.sweep()

	if _, ok := s.registry.FindByConnectionID(c.ID); !ok {
		t.Fatal("malformed payload should not tear the connection down")
	}

	client.sendMeta(t, map[string]string{"action": "ping"})
	s.sweep()
	if frame := client.readFrame(t); frame.Marker != protocol.MarkerMeta {
		t.Errorf("connection should still answer pings, got marker %q", byte(frame.Marker))
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	connA, clientA := addTestConnection(t, s)
	_, clientB := addTestConnection(t, s)

	authenticateAs(t, s, clientA, 1, "alice")
	authenticateAs(t, s, clientB, 2, "bob")
	clientA.drain(t)
	clientB.drain(t)

	s.Disconnect(connA, "test")
	s.Disconnect(connA, "test again")

	leftCount := 0
	for _, frame := range clientB.drain(t) {
		if gameplayType(t, frame) == "peer_left" {
			leftCount++
		}
	}
	if leftCount != 1 {
		t.Errorf("peer_left broadcast %d times, want exactly once", leftCount)
	}
	if s.FindPlayer("alice") != nil {
		t.Error("departed player should be off the roster")
	}
	if _, ok := s.previous.FindBySteamID(1); !ok {
		t.Error("departed player should be recorded for the retention window")
	}
}

func TestClosedPeerIsDetectedBySweep(t *testing.T) {
	s := newTestServer(t)
	_, clientA := addTestConnection(t, s)
	_, clientB := addTestConnection(t, s)

	authenticateAs(t, s, clientA, 1, "alice")
	authenticateAs(t, s, clientB, 2, "bob")
	clientA.drain(t)
	clientB.drain(t)

	clientA.conn.Close()
	// The close may take a moment to surface on the server side.
	deadline := time.Now().Add(2 * time.Second)
	for s.registry.Len() > 1 && time.Now().Before(deadline) {
		s.sweep()
		time.Sleep(5 * time.Millisecond)
	}

	if got := s.registry.Len(); got != 1 {
		t.Fatalf("registry has %d connections, want 1 after peer close", got)
	}

	found := false
	for _, frame := range clientB.drain(t) {
		if gameplayType(t, frame) == "peer_left" {
			found = true
		}
	}
	if !found {
		t.Error("remaining peer should be told about the departure")
	}
}

func TestLateJoinerReceivesChalkReplay(t *testing.T) {
	s := newTestServer(t)
	canvas, ok := s.Board().Canvas(2)
	if !ok {
		t.Fatal("canvas 2 should exist")
	}
	canvas.SetCell(godot.Vector2{X: 1, Y: 2}, 3)

	_, client := addTestConnection(t, s)
	authenticateAs(t, s, client, 1, "alice")

	found := false
	for _, frame := range client.drain(t) {
		if gameplayType(t, frame) != "chalk_packet" {
			continue
		}
		value, err := godot.Unmarshal(frame.Payload)
		if err != nil {
			t.Fatalf("error decoding frame: %s", err)
		}
		payloadValue, _ := value.Dict().GetString("payload")
		if payloadValue.Dict().IntField("canvas_id") == 2 {
			found = true
		}
	}
	if !found {
		t.Error("joining player should receive the canvas replay")
	}
}

func chatPacket(text string) *godot.Dictionary {
	packet := godot.NewDictionary()
	packet.SetString("type", godot.String("message"))
	packet.SetString("message", godot.String(text))
	packet.SetString("local", godot.Bool(false))
	packet.SetString("zone", godot.String("main_zone"))
	return packet
}

func TestChatCommandDispatch(t *testing.T) {
	s := newTestServer(t)
	_, client := addTestConnection(t, s)
	authenticateAs(t, s, client, 1, "alice")
	client.drain(t)

	invoked := make(chan []string, 1)
	s.commands.Register("wave", func(sender *player.Player, args []string) {
		invoked <- args
	})

	client.sendGameplay(t, chatPacket("!wave hello there"), "all")
	s.sweep()

	select {
	case args := <-invoked:
		if len(args) != 2 || args[0] != "hello" || args[1] != "there" {
			t.Errorf("args = %v, want [hello there]", args)
		}
	default:
		t.Fatal("command handler never ran")
	}
}

func TestChatUnknownCommandReply(t *testing.T) {
	s := newTestServer(t)
	_, client := addTestConnection(t, s)
	authenticateAs(t, s, client, 1, "alice")
	client.drain(t)

	client.sendGameplay(t, chatPacket("!doesnotexist"), "all")
	s.sweep()

	found := false
	for _, frame := range client.drain(t) {
		if gameplayType(t, frame) != "message" {
			continue
		}
		value, err := godot.Unmarshal(frame.Payload)
		if err != nil {
			t.Fatalf("error decoding frame: %s", err)
		}
		payloadValue, _ := value.Dict().GetString("payload")
		if payloadValue.Dict().StringField("message") == "Command not found!" {
			found = true
		}
	}
	if !found {
		t.Error("sender should be told the command does not exist")
	}
}

// shutdownWitness logs hook entry and exit so a test can prove OnEnd never
// interleaves with an in-flight OnUpdate.
type shutdownWitness struct {
	plugin.Base
	mu     sync.Mutex
	events []string
}

func (w *shutdownWitness) add(event string) {
	w.mu.Lock()
	w.events = append(w.events, event)
	w.mu.Unlock()
}

func (w *shutdownWitness) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func (w *shutdownWitness) updates() int {
	count := 0
	for _, e := range w.snapshot() {
		if e == "update:end" {
			count++
		}
	}
	return count
}

func (w *shutdownWitness) OnUpdate() {
	w.add("update:begin")
	time.Sleep(time.Millisecond)
	w.add("update:end")
}

func (w *shutdownWitness) OnEnd() { w.add("end") }

func TestStopUnloadsPluginsOnPollingWorker(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &core.Config{}

	commands := command.NewTable(logger)
	bus := plugin.NewBus(logger, commands)
	witness := &shutdownWitness{}
	bus.Register(plugin.Registration{Name: "witness", New: func(plugin.API) plugin.Plugin { return witness }})

	s := New(cfg, logger, nil, bus, commands)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("error starting server: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for witness.updates() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if witness.updates() == 0 {
		t.Fatal("update hook never fired")
	}

	// Stop from a goroutine the worker knows nothing about; the unload must
	// still happen on the worker, after any in-flight dispatch.
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not finish shutting down")
	}

	events := witness.snapshot()
	if last := events[len(events)-1]; last != "end" {
		t.Fatalf("OnEnd should be the final hook, got %q", last)
	}
	inUpdate := false
	for _, e := range events {
		switch e {
		case "update:begin":
			inUpdate = true
		case "update:end":
			inUpdate = false
		case "end":
			if inUpdate {
				t.Fatal("OnEnd ran concurrently with an in-flight OnUpdate")
			}
		}
	}
}
