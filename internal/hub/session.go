package hub

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"lanhub/internal/events"
	"lanhub/internal/file"
	"lanhub/internal/state"
	"lanhub/internal/wire"
	"lanhub/pkg/protocol"
)

// HandleConn runs one connection through its lifecycle: exactly one
// register frame, then the dispatch loop until the connection dies. The
// deferred cleanup always runs, so a client dropping at any point mid
// protocol still leaves the registry consistent.
func (h *Hub) HandleConn(conn net.Conn) {
	defer conn.Close()

	env, err := wire.ReadFrame(conn)
	if err != nil {
		log.Printf("connection %s closed before registering: %v", conn.RemoteAddr(), err)
		return
	}

	if env.Type != protocol.TypeRegister {
		log.Printf("first message from %s was %q, closing", conn.RemoteAddr(), env.Type)
		h.sendError(conn, "Please register first.")
		return
	}

	var reg protocol.Register
	if err := env.Decode(&reg); err != nil {
		h.sendError(conn, "Malformed register message.")
		return
	}

	sess, err := h.registry.Register(reg.Username, conn, reg.VideoUDPPort, reg.AudioUDPPort)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrInvalidUsername):
			h.sendError(conn, "Invalid username format (3-20 alphanumeric chars).")
		case errors.Is(err, state.ErrDuplicateUsername):
			h.sendError(conn, fmt.Sprintf("Username '%s' already taken.", reg.Username))
		default:
			h.sendError(conn, "Registration failed.")
		}
		log.Printf("registration failed for %s: %v", conn.RemoteAddr(), err)
		return
	}
	defer h.cleanup(sess.Username)

	if err := sess.SendFrame(protocol.RegistrationSuccess{
		Type:       protocol.TypeRegistrationSuccess,
		Username:   sess.Username,
		ServerTime: time.Now().Format(time.RFC3339),
	}); err != nil {
		log.Printf("registration confirmation to %s failed: %v", sess.Username, err)
		return
	}

	log.Printf("user %q registered from %s", sess.Username, conn.RemoteAddr())
	h.broadcastUserList()
	h.chat.PostSystem(fmt.Sprintf("%s joined the session", sess.Username))
	h.bus.Publish(events.UserJoin, map[string]any{"username": sess.Username})

	h.dispatchLoop(sess, conn)
}

func (h *Hub) dispatchLoop(sess *state.ClientSession, conn net.Conn) {
	for {
		select {
		case <-h.done:
			return
		default:
		}

		env, err := wire.ReadFrame(conn)
		if err != nil {
			log.Printf("connection lost for %s: %v", sess.Username, err)
			return
		}

		switch env.Type {
		case protocol.TypeChat:
			var msg protocol.Chat
			if env.Decode(&msg) == nil {
				h.chat.PostChat(sess.Username, msg.Message)
			}

		case protocol.TypeFileUploadRequest:
			var req protocol.FileUploadRequest
			if env.Decode(&req) != nil {
				continue
			}
			if err := h.files.HandleUploadRequest(sess, req); err != nil {
				if errors.Is(err, file.ErrInvalidFileInfo) {
					h.sendSessError(sess, "Invalid file information")
				} else {
					log.Printf("upload request from %s failed: %v", sess.Username, err)
				}
			}

		case protocol.TypeFileDataChunk:
			var chunk protocol.FileDataChunk
			if env.Decode(&chunk) == nil {
				h.files.HandleChunk(sess, chunk)
			}

		case protocol.TypeFileDownloadRequest:
			var req protocol.FileDownloadRequest
			if env.Decode(&req) != nil {
				continue
			}
			if err := h.files.HandleDownload(sess, req.FileID); err != nil {
				if errors.Is(err, file.ErrFileNotFound) {
					h.sendSessError(sess, "File not found")
				} else {
					log.Printf("download for %s failed: %v", sess.Username, err)
				}
			}

		case protocol.TypeScreenShareStart:
			h.screen.Start(sess.Username)

		case protocol.TypeScreenShareStop:
			h.screen.Stop(sess.Username)

		case protocol.TypeScreenFrame:
			var frame protocol.ScreenFrame
			if env.Decode(&frame) == nil {
				h.screen.HandleFrame(sess.Username, frame)
			}

		default:
			// Unknown types from a registered client are non-fatal.
			log.Printf("unknown message type %q from %s", env.Type, sess.Username)
		}
	}
}

// cleanup tears down everything a session owns. Idempotent: the registry
// removal decides whether the rest runs.
func (h *Hub) cleanup(username string) {
	sess := h.registry.Unregister(username)
	if sess == nil {
		return
	}

	log.Printf("user %q disconnected", username)
	h.files.AbortUpload(username)
	if h.mixer != nil {
		h.mixer.RemoveSender(username)
	}
	if h.screen.Presenter() == username {
		h.screen.Stop(username)
	}

	h.broadcastUserList()
	h.chat.PostSystem(fmt.Sprintf("%s left the session", username))
	h.bus.Publish(events.UserLeave, map[string]any{"username": username})
}

func (h *Hub) sendError(conn net.Conn, message string) {
	if err := wire.WriteFrame(conn, protocol.Error{Type: protocol.TypeError, Message: message}); err != nil {
		log.Printf("error frame to %s failed: %v", conn.RemoteAddr(), err)
	}
}

func (h *Hub) sendSessError(sess *state.ClientSession, message string) {
	if err := sess.SendFrame(protocol.Error{Type: protocol.TypeError, Message: message}); err != nil {
		log.Printf("error frame to %s failed: %v", sess.Username, err)
	}
}
