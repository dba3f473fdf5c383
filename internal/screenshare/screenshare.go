// Package screenshare arbitrates the single-presenter screen share and
// relays presenter frames over TCP.
package screenshare

import (
	"log"
	"sync"
	"time"

	"lanhub/internal/events"
	"lanhub/internal/state"
	"lanhub/pkg/protocol"
)

// Arbitrator enforces "at most one active presenter". State is either idle
// (empty presenter) or presenting one username; transitions happen only
// through Start, Stop and presenter disconnect.
type Arbitrator struct {
	registry *state.Registry
	bus      *events.Bus

	mu        sync.Mutex
	presenter string
	frame     *protocol.ScreenFrame
}

func NewArbitrator(registry *state.Registry, bus *events.Bus) *Arbitrator {
	return &Arbitrator{registry: registry, bus: bus}
}

// Presenter returns the active presenter's username, or "" when idle.
func (a *Arbitrator) Presenter() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.presenter
}

// Start makes username the active presenter. A different live presenter is
// force-stopped first; its presentation_stopped broadcast always precedes
// the new presentation_started.
func (a *Arbitrator) Start(username string) {
	a.mu.Lock()
	forced := ""
	if a.presenter != "" && a.presenter != username {
		forced = a.presenter
	}
	a.presenter = username
	a.frame = nil
	a.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	if forced != "" {
		a.broadcastStopped(forced, now)
	}

	a.registry.Broadcast(protocol.PresentationStarted{
		Type:      protocol.TypePresentationStarted,
		Presenter: username,
		Timestamp: now,
	})
	a.bus.Publish(events.PresentationStarted, map[string]any{"presenter": username})
	log.Printf("screen share started by %s", username)
}

// Stop ends username's presentation. A no-op unless username is the active
// presenter, so a stale stop from a prior presenter cannot kill a handover.
func (a *Arbitrator) Stop(username string) {
	a.mu.Lock()
	if a.presenter != username {
		a.mu.Unlock()
		return
	}
	a.presenter = ""
	a.frame = nil
	a.mu.Unlock()

	a.broadcastStopped(username, time.Now().Format(time.RFC3339))
	log.Printf("screen share stopped by %s", username)
}

// HandleFrame buffers and relays one presenter frame to every other
// session. Frames from anyone but the live presenter are dropped silently.
func (a *Arbitrator) HandleFrame(username string, frame protocol.ScreenFrame) {
	if frame.FrameData == "" {
		return
	}

	a.mu.Lock()
	if a.presenter != username {
		a.mu.Unlock()
		return
	}
	frame.Type = protocol.TypeScreenFrame
	frame.Presenter = username
	a.frame = &frame
	a.mu.Unlock()

	a.registry.Broadcast(frame, username)
}

// CurrentFrame returns the latest buffered presenter frame, or nil.
func (a *Arbitrator) CurrentFrame() *protocol.ScreenFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frame == nil {
		return nil
	}
	f := *a.frame
	return &f
}

func (a *Arbitrator) broadcastStopped(presenter, timestamp string) {
	a.registry.Broadcast(protocol.PresentationStopped{
		Type:      protocol.TypePresentationStopped,
		Presenter: presenter,
		Timestamp: timestamp,
	})
	a.bus.Publish(events.PresentationStopped, map[string]any{"presenter": presenter})
}
