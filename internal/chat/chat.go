// Package chat keeps the in-memory message log and fans messages out to
// every connected session.
package chat

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"lanhub/internal/events"
	"lanhub/internal/state"
	"lanhub/pkg/protocol"
)

// ErrUnknownRecipient is returned when a private message targets a username
// that is not registered.
var ErrUnknownRecipient = errors.New("recipient not connected")

// MaxHistory bounds the message log; the oldest entry is evicted on append
// once the log is full.
const MaxHistory = 1000

// SystemUsername is the author recorded on join/leave announcements.
const SystemUsername = "SYSTEM"

// Service owns the chat log. All appends and reads go through its mutex;
// fan-out uses the registry's snapshot-then-send path outside any lock.
type Service struct {
	registry *state.Registry
	bus      *events.Bus

	mu      sync.Mutex
	nextID  int64
	history []protocol.ChatMessage
}

func NewService(registry *state.Registry, bus *events.Bus) *Service {
	return &Service{registry: registry, bus: bus, nextID: 1}
}

// PostChat appends a chat message and broadcasts it to all sessions.
// Empty or whitespace-only text is a silent no-op.
func (s *Service) PostChat(username, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	msg := s.append(username, text, protocol.KindChat, "")
	s.registry.Broadcast(protocol.ChatMessageFrame{Type: protocol.TypeChatMessage, Data: msg})
	s.bus.Publish(events.ChatPosted, map[string]any{"username": username, "message": text})
	log.Printf("chat %s: %s", username, text)
}

// PostSystem appends and broadcasts a system announcement.
func (s *Service) PostSystem(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	msg := s.append(SystemUsername, text, protocol.KindSystem, "")
	s.registry.Broadcast(protocol.ChatMessageFrame{Type: protocol.TypeSystemMessage, Data: msg})
	log.Printf("system: %s", text)
}

// PostPrivate appends a private message and delivers it to the recipient
// and back to the sender only.
func (s *Service) PostPrivate(from, to, text string) error {
	if _, ok := s.registry.Get(to); !ok {
		return ErrUnknownRecipient
	}

	msg := s.append(from, text, protocol.KindPrivate, to)
	frame := protocol.ChatMessageFrame{Type: protocol.TypePrivateMessage, Data: msg}
	if err := s.registry.SendTo(to, frame); err != nil {
		return err
	}
	if err := s.registry.SendTo(from, frame); err != nil {
		log.Printf("private echo to %s failed: %v", from, err)
	}
	return nil
}

// History returns up to limit of the most recent messages, oldest first.
func (s *Service) History(limit int) []protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]protocol.ChatMessage, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

func (s *Service) append(username, text, kind, recipient string) protocol.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := protocol.ChatMessage{
		ID:        s.nextID,
		Username:  username,
		Message:   text,
		Timestamp: time.Now().Format(time.RFC3339),
		Kind:      kind,
		Recipient: recipient,
	}
	s.nextID++

	s.history = append(s.history, msg)
	if len(s.history) > MaxHistory {
		s.history = s.history[len(s.history)-MaxHistory:]
	}
	return msg
}
