package state

import (
	"log"
	"net"
	"regexp"
	"sort"
	"sync"
	"time"

	"lanhub/internal/wire"
)

// Medium identifies which UDP relay an endpoint belongs to.
type Medium string

const (
	MediumVideo Medium = "video"
	MediumAudio Medium = "audio"
)

// StatusOnline is the only status a registered session carries today.
const StatusOnline = "online"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// ValidateUsername reports whether a username is acceptable for
// registration: 3-20 characters, alphanumeric plus underscore and hyphen.
func ValidateUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ClientSession is one registered client: its TCP connection, remote
// address and the UDP endpoints the media relays deliver to. The Registry
// is the sole owner; everything else holds it by reference.
type ClientSession struct {
	Username string
	Addr     net.Addr
	JoinedAt time.Time
	Status   string

	conn net.Conn

	// wmu serializes frame writes so concurrent broadcasts never
	// interleave bytes on the wire.
	wmu sync.Mutex

	// emu guards the UDP endpoints, which the relay loops attach and
	// detach while the session is live.
	emu           sync.Mutex
	videoEndpoint *net.UDPAddr
	audioEndpoint *net.UDPAddr
}

// SendFrame writes one control frame to this session's connection. Safe for
// concurrent use; submission order is preserved per session.
func (s *ClientSession) SendFrame(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return wire.WriteFrame(s.conn, v)
}

// Close closes the underlying TCP connection.
func (s *ClientSession) Close() error {
	return s.conn.Close()
}

// Endpoint returns the session's UDP endpoint for the given medium, or nil
// if none is attached.
func (s *ClientSession) Endpoint(medium Medium) *net.UDPAddr {
	s.emu.Lock()
	defer s.emu.Unlock()
	if medium == MediumAudio {
		return s.audioEndpoint
	}
	return s.videoEndpoint
}

func (s *ClientSession) setEndpoint(medium Medium, addr *net.UDPAddr) {
	s.emu.Lock()
	defer s.emu.Unlock()
	if medium == MediumAudio {
		s.audioEndpoint = addr
	} else {
		s.videoEndpoint = addr
	}
}

// Registry is the authoritative table of connected clients, keyed by
// username. All map access goes through one exclusive lock; the lock is
// never held across a network send.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*ClientSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*ClientSession)}
}

// Register validates the username, rejects duplicates and inserts the new
// session. The video/audio UDP endpoints are derived from the client's
// remote IP and the ports it declared at registration; a zero port leaves
// the endpoint unattached until the relay learns it from traffic.
func (r *Registry) Register(username string, conn net.Conn, videoPort, audioPort int) (*ClientSession, error) {
	if !ValidateUsername(username) {
		return nil, ErrInvalidUsername
	}

	sess := &ClientSession{
		Username: username,
		Addr:     conn.RemoteAddr(),
		JoinedAt: time.Now(),
		Status:   StatusOnline,
		conn:     conn,
	}

	host := remoteIP(conn.RemoteAddr())
	if videoPort > 0 && host != nil {
		sess.videoEndpoint = &net.UDPAddr{IP: host, Port: videoPort}
	}
	if audioPort > 0 && host != nil {
		sess.audioEndpoint = &net.UDPAddr{IP: host, Port: audioPort}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[username]; exists {
		return nil, ErrDuplicateUsername
	}
	r.sessions[username] = sess
	return sess, nil
}

// Unregister atomically removes and returns the session, or nil if the
// username is not registered. Safe to call twice.
func (r *Registry) Unregister(username string) *ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.sessions[username]
	delete(r.sessions, username)
	return sess
}

// Get returns the live session for a username.
func (r *Registry) Get(username string) (*ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// SetEndpoint attaches or detaches (addr nil) a UDP endpoint for a
// registered client. Unknown usernames are ignored.
func (r *Registry) SetEndpoint(username string, medium Medium, addr *net.UDPAddr) {
	sess, ok := r.Get(username)
	if !ok {
		return
	}
	sess.setEndpoint(medium, addr)
}

// Snapshot returns a point-in-time copy of all sessions sorted by username.
// Broadcast paths iterate the snapshot after the lock is released so a slow
// send never stalls registration.
func (r *Registry) Snapshot() []*ClientSession {
	r.mu.Lock()
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Username < sessions[j].Username
	})
	return sessions
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast sends a frame to every registered session except the excluded
// usernames. Per-destination failures are logged and never abort delivery
// to the rest.
func (r *Registry) Broadcast(v any, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	for _, sess := range r.Snapshot() {
		if _, excluded := skip[sess.Username]; excluded {
			continue
		}
		if err := sess.SendFrame(v); err != nil {
			log.Printf("broadcast to %s failed: %v", sess.Username, err)
		}
	}
}

// SendTo delivers a frame to one username.
func (r *Registry) SendTo(username string, v any) error {
	sess, ok := r.Get(username)
	if !ok {
		return ErrUserNotFound
	}
	return sess.SendFrame(v)
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
