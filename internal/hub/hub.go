// Package hub owns the TCP control channel: the accept loop, one session
// goroutine per connection and dispatch into the feature services.
package hub

import (
	"log"
	"net"
	"sync"
	"time"

	"lanhub/internal/chat"
	"lanhub/internal/events"
	"lanhub/internal/file"
	"lanhub/internal/media"
	"lanhub/internal/screenshare"
	"lanhub/internal/state"
	"lanhub/pkg/protocol"
)

const acceptTimeout = time.Second

type Hub struct {
	registry *state.Registry
	chat     *chat.Service
	files    *file.Service
	screen   *screenshare.Arbitrator
	mixer    *media.AudioMixer
	bus      *events.Bus

	started time.Time
	ln      *net.TCPListener
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(registry *state.Registry, chatSvc *chat.Service, files *file.Service,
	screen *screenshare.Arbitrator, mixer *media.AudioMixer, bus *events.Bus) *Hub {
	return &Hub{
		registry: registry,
		chat:     chatSvc,
		files:    files,
		screen:   screen,
		mixer:    mixer,
		bus:      bus,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
}

// Serve starts accepting connections on ln. Each accepted connection gets
// its own goroutine; sessions never block one another.
func (h *Hub) Serve(ln *net.TCPListener) {
	h.ln = ln
	h.wg.Add(1)
	go h.acceptLoop()
}

// Stop shuts the accept loop down, closes every live session and waits for
// all session goroutines to finish.
func (h *Hub) Stop() {
	close(h.done)
	if h.ln != nil {
		h.ln.Close()
	}
	for _, sess := range h.registry.Snapshot() {
		sess.Close()
	}
	h.wg.Wait()
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		default:
		}

		h.ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := h.ln.Accept()
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			select {
			case <-h.done:
				return
			default:
				log.Printf("accept error: %v", err)
				continue
			}
		}

		log.Printf("new connection from %s", conn.RemoteAddr())
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.HandleConn(conn)
		}()
	}
}

// Stats is the operational snapshot served by the admin API.
type Stats struct {
	Clients       int      `json:"clients"`
	Files         int      `json:"files"`
	Presenter     string   `json:"presenter,omitempty"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Usernames     []string `json:"usernames"`
}

func (h *Hub) Stats() Stats {
	sessions := h.registry.Snapshot()
	names := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		names = append(names, sess.Username)
	}
	return Stats{
		Clients:       len(sessions),
		Files:         h.files.Count(),
		Presenter:     h.screen.Presenter(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Usernames:     names,
	}
}

// Users returns the current user list as sent in user_list_update frames.
func (h *Hub) Users() []protocol.UserInfo {
	sessions := h.registry.Snapshot()
	users := make([]protocol.UserInfo, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, protocol.UserInfo{
			Username: sess.Username,
			Status:   sess.Status,
			JoinedAt: sess.JoinedAt.Format(time.RFC3339),
		})
	}
	return users
}

// broadcastUserList pushes the full roster and current presenter to every
// session after a join or leave.
func (h *Hub) broadcastUserList() {
	var presenter *string
	if p := h.screen.Presenter(); p != "" {
		presenter = &p
	}
	h.registry.Broadcast(protocol.UserListUpdate{
		Type:             protocol.TypeUserListUpdate,
		Users:            h.Users(),
		CurrentPresenter: presenter,
	})
}
