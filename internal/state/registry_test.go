package state_test

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"lanhub/internal/state"
	"lanhub/internal/wire"
)

// fakeConn is an in-memory net.Conn capturing everything written to it.
type fakeConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Read(p)
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// drainFrames parses every frame captured so far.
func drainFrames(t *testing.T, c *fakeConn) []*wire.Envelope {
	t.Helper()
	c.mu.Lock()
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	c.buf.Reset()
	c.mu.Unlock()

	var frames []*wire.Envelope
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		env, err := wire.ReadFrame(r)
		if err != nil {
			t.Fatalf("parse captured frame: %v", err)
		}
		frames = append(frames, env)
	}
	return frames
}

func TestRegisterAndDuplicate(t *testing.T) {
	r := state.NewRegistry()

	sess, err := r.Register("alice", &fakeConn{}, 0, 0)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if sess.Username != "alice" || sess.Status != state.StatusOnline {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if _, err := r.Register("alice", &fakeConn{}, 0, 0); err != state.ErrDuplicateUsername {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}
}

func TestRegisterValidatesUsername(t *testing.T) {
	r := state.NewRegistry()

	for _, bad := range []string{"", "ab", "way-too-long-username-here", "has space", "semi;colon"} {
		if _, err := r.Register(bad, &fakeConn{}, 0, 0); err != state.ErrInvalidUsername {
			t.Fatalf("username %q: expected ErrInvalidUsername, got %v", bad, err)
		}
	}

	for _, good := range []string{"bob", "alice_2", "up-to-twenty-chars-x"} {
		if _, err := r.Register(good, &fakeConn{}, 0, 0); err != nil {
			t.Fatalf("username %q should be accepted: %v", good, err)
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := state.NewRegistry()
	if _, err := r.Register("alice", &fakeConn{}, 0, 0); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if sess := r.Unregister("alice"); sess == nil {
		t.Fatalf("first unregister should return the session")
	}
	if sess := r.Unregister("alice"); sess != nil {
		t.Fatalf("second unregister should return nil")
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestRegisterDerivesEndpoints(t *testing.T) {
	r := state.NewRegistry()
	sess, err := r.Register("alice", &fakeConn{}, 7001, 7002)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	video := sess.Endpoint(state.MediumVideo)
	if video == nil || video.Port != 7001 || !video.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("unexpected video endpoint: %v", video)
	}
	audio := sess.Endpoint(state.MediumAudio)
	if audio == nil || audio.Port != 7002 {
		t.Fatalf("unexpected audio endpoint: %v", audio)
	}
}

func TestSetEndpoint(t *testing.T) {
	r := state.NewRegistry()
	sess, _ := r.Register("alice", &fakeConn{}, 0, 0)
	if sess.Endpoint(state.MediumVideo) != nil {
		t.Fatalf("expected no video endpoint at registration")
	}

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 4321}
	r.SetEndpoint("alice", state.MediumVideo, addr)
	if got := sess.Endpoint(state.MediumVideo); got == nil || got.Port != 4321 {
		t.Fatalf("endpoint not attached: %v", got)
	}

	r.SetEndpoint("alice", state.MediumVideo, nil)
	if sess.Endpoint(state.MediumVideo) != nil {
		t.Fatalf("endpoint not detached")
	}

	// Unknown username is ignored.
	r.SetEndpoint("nobody", state.MediumAudio, addr)
}

func TestSnapshotSortedAndStable(t *testing.T) {
	r := state.NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		if _, err := r.Register(name, &fakeConn{}, 0, 0); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(snap))
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		if snap[i].Username != want {
			t.Fatalf("snapshot order: expected %s at %d, got %s", want, i, snap[i].Username)
		}
	}

	// Mutating the registry must not affect an existing snapshot.
	r.Unregister("bob")
	if len(snap) != 3 {
		t.Fatalf("snapshot changed length after unregister")
	}
}

func TestBroadcastWithExclusion(t *testing.T) {
	r := state.NewRegistry()
	connA, connB := &fakeConn{}, &fakeConn{}
	r.Register("alice", connA, 0, 0)
	r.Register("bob", connB, 0, 0)

	r.Broadcast(map[string]string{"type": "ping"}, "bob")

	if frames := drainFrames(t, connA); len(frames) != 1 || frames[0].Type != "ping" {
		t.Fatalf("alice should receive the broadcast, got %v", frames)
	}
	if frames := drainFrames(t, connB); len(frames) != 0 {
		t.Fatalf("bob was excluded but received %d frames", len(frames))
	}
}

func TestSendToUnknownUser(t *testing.T) {
	r := state.NewRegistry()
	if err := r.SendTo("ghost", map[string]string{"type": "ping"}); err != state.ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
