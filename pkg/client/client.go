// Package client is a programmatic client for the lanhub TCP control
// channel: registration, chat, file transfer and screen share. Media
// streaming over UDP is left to the caller, which owns its capture sources.
package client

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"lanhub/internal/wire"
	"lanhub/pkg/protocol"
)

// Config configures a client connection.
type Config struct {
	// Addr is the host:port of the server's TCP control channel.
	Addr     string
	Username string

	// UDP ports this client listens on for relayed media; zero means the
	// server learns them from traffic instead.
	VideoUDPPort int
	AudioUDPPort int

	// RegisterTimeout bounds the wait for the registration reply.
	RegisterTimeout time.Duration
}

// EventHandler defines callbacks for frames pushed by the server.
type EventHandler interface {
	OnConnected()
	OnDisconnected()
	OnChatMessage(msg protocol.ChatMessage)
	OnSystemMessage(msg protocol.ChatMessage)
	OnUserList(update protocol.UserListUpdate)
	OnFileAvailable(info protocol.FileInfo)
	OnUploadConfirmed(fileID string)
	OnUploadProgress(progress protocol.UploadProgress)
	OnFileDataStart(start protocol.FileDataStart)
	OnFileDataChunk(chunk protocol.FileDataChunk)
	OnFileDataComplete(fileID string)
	OnPresentationStarted(presenter string)
	OnPresentationStopped(presenter string)
	OnScreenFrame(frame protocol.ScreenFrame)
	OnError(message string)
	OnServerFrame(frameType string, raw json.RawMessage)
}

// DefaultEventHandler provides a logging implementation of EventHandler.
type DefaultEventHandler struct{}

func (h *DefaultEventHandler) OnConnected()    { log.Printf("connected to server") }
func (h *DefaultEventHandler) OnDisconnected() { log.Printf("disconnected from server") }
func (h *DefaultEventHandler) OnChatMessage(msg protocol.ChatMessage) {
	log.Printf("%s: %s", msg.Username, msg.Message)
}
func (h *DefaultEventHandler) OnSystemMessage(msg protocol.ChatMessage) {
	log.Printf("[system] %s", msg.Message)
}
func (h *DefaultEventHandler) OnUserList(update protocol.UserListUpdate) {
	log.Printf("%d users online", len(update.Users))
}
func (h *DefaultEventHandler) OnFileAvailable(info protocol.FileInfo) {
	log.Printf("file available: %s (%d bytes) from %s", info.Filename, info.FileSize, info.Uploader)
}
func (h *DefaultEventHandler) OnUploadConfirmed(fileID string) { log.Printf("upload confirmed: %s", fileID) }
func (h *DefaultEventHandler) OnUploadProgress(p protocol.UploadProgress) {
	log.Printf("upload progress: %.1f%%", p.Progress)
}
func (h *DefaultEventHandler) OnFileDataStart(start protocol.FileDataStart) {
	log.Printf("downloading %s (%d chunks)", start.Filename, start.TotalChunks)
}
func (h *DefaultEventHandler) OnFileDataChunk(chunk protocol.FileDataChunk)      {}
func (h *DefaultEventHandler) OnFileDataComplete(fileID string)                  { log.Printf("download complete: %s", fileID) }
func (h *DefaultEventHandler) OnPresentationStarted(presenter string)            { log.Printf("%s started presenting", presenter) }
func (h *DefaultEventHandler) OnPresentationStopped(presenter string)            { log.Printf("%s stopped presenting", presenter) }
func (h *DefaultEventHandler) OnScreenFrame(frame protocol.ScreenFrame)          {}
func (h *DefaultEventHandler) OnError(message string)                            { log.Printf("server error: %s", message) }
func (h *DefaultEventHandler) OnServerFrame(frameType string, raw json.RawMessage) {
	log.Printf("frame: %s", frameType)
}

// Client is one connection to the hub's control channel.
type Client struct {
	config  Config
	handler EventHandler

	conn      net.Conn
	wmu       sync.Mutex
	connected bool
}

func New(config Config) *Client {
	if config.RegisterTimeout == 0 {
		config.RegisterTimeout = 10 * time.Second
	}
	return &Client{config: config, handler: &DefaultEventHandler{}}
}

// SetEventHandler sets a custom event handler.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Connect dials the server's TCP control channel.
func (c *Client) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.config.Addr)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.handler.OnConnected()
	return nil
}

// Register sends the register frame and waits, bounded by RegisterTimeout,
// for the server's verdict. A rejection closes the connection.
func (c *Client) Register() error {
	err := c.send(protocol.Register{
		Type:         protocol.TypeRegister,
		Username:     c.config.Username,
		ClientTime:   time.Now().Format(time.RFC3339),
		VideoUDPPort: c.config.VideoUDPPort,
		AudioUDPPort: c.config.AudioUDPPort,
	})
	if err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.RegisterTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	env, err := wire.ReadFrame(c.conn)
	if err != nil {
		c.Close()
		return fmt.Errorf("registration reply: %w", err)
	}

	switch env.Type {
	case protocol.TypeRegistrationSuccess:
		return nil
	case protocol.TypeError:
		var e protocol.Error
		if err := env.Decode(&e); err == nil {
			c.Close()
			return fmt.Errorf("registration rejected: %s", e.Message)
		}
	}
	c.Close()
	return fmt.Errorf("unexpected registration reply %q", env.Type)
}

// Close tears the connection down.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.connected = false
	err := c.conn.Close()
	c.handler.OnDisconnected()
	return err
}

// SendChat posts a chat message.
func (c *Client) SendChat(text string) error {
	return c.send(protocol.Chat{Type: protocol.TypeChat, Message: text})
}

// RequestUpload announces an upload; the server replies with
// upload_confirmed carrying the file id.
func (c *Client) RequestUpload(filename string, size int64, hashHex string) error {
	return c.send(protocol.FileUploadRequest{
		Type:     protocol.TypeFileUploadRequest,
		Filename: filename,
		FileSize: size,
		FileHash: hashHex,
	})
}

// SendFileData pushes the file bytes as hex-encoded 4 KiB chunks.
func (c *Client) SendFileData(fileID string, data []byte) error {
	for i := 0; i < len(data); i += protocol.FileChunkSize {
		end := i + protocol.FileChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := protocol.FileDataChunk{
			Type:       protocol.TypeFileDataChunk,
			FileID:     fileID,
			ChunkIndex: i / protocol.FileChunkSize,
			ChunkData:  hex.EncodeToString(data[i:end]),
		}
		if err := c.send(chunk); err != nil {
			return fmt.Errorf("send chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return nil
}

// RequestDownload asks the server to stream a stored file back.
func (c *Client) RequestDownload(fileID string) error {
	return c.send(protocol.FileDownloadRequest{Type: protocol.TypeFileDownloadRequest, FileID: fileID})
}

// StartScreenShare claims the presenter slot.
func (c *Client) StartScreenShare() error {
	return c.send(protocol.ScreenShareStart{
		Type:      protocol.TypeScreenShareStart,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

// StopScreenShare releases the presenter slot.
func (c *Client) StopScreenShare() error {
	return c.send(protocol.ScreenShareStop{
		Type:      protocol.TypeScreenShareStop,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

// SendScreenFrame relays one captured frame; data is base64-encoded for the
// wire.
func (c *Client) SendScreenFrame(data []byte, format string) error {
	return c.send(protocol.ScreenFrame{
		Type:      protocol.TypeScreenFrame,
		FrameData: base64.StdEncoding.EncodeToString(data),
		Format:    format,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
}

// Listen reads server frames and dispatches them to the event handler until
// the connection dies or ctx is canceled.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.connected = false
			return fmt.Errorf("read frame: %w", err)
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env *wire.Envelope) {
	switch env.Type {
	case protocol.TypeChatMessage:
		var f protocol.ChatMessageFrame
		if env.Decode(&f) == nil {
			c.handler.OnChatMessage(f.Data)
		}
	case protocol.TypeSystemMessage:
		var f protocol.ChatMessageFrame
		if env.Decode(&f) == nil {
			c.handler.OnSystemMessage(f.Data)
		}
	case protocol.TypeUserListUpdate:
		var f protocol.UserListUpdate
		if env.Decode(&f) == nil {
			c.handler.OnUserList(f)
		}
	case protocol.TypeFileAvailable:
		var f protocol.FileAvailable
		if env.Decode(&f) == nil {
			c.handler.OnFileAvailable(f.FileInfo)
		}
	case protocol.TypeUploadConfirmed:
		var f protocol.UploadConfirmed
		if env.Decode(&f) == nil {
			c.handler.OnUploadConfirmed(f.FileID)
		}
	case protocol.TypeUploadProgress:
		var f protocol.UploadProgress
		if env.Decode(&f) == nil {
			c.handler.OnUploadProgress(f)
		}
	case protocol.TypeFileDataStart:
		var f protocol.FileDataStart
		if env.Decode(&f) == nil {
			c.handler.OnFileDataStart(f)
		}
	case protocol.TypeFileDataChunk:
		var f protocol.FileDataChunk
		if env.Decode(&f) == nil {
			c.handler.OnFileDataChunk(f)
		}
	case protocol.TypeFileDataComplete:
		var f protocol.FileDataComplete
		if env.Decode(&f) == nil {
			c.handler.OnFileDataComplete(f.FileID)
		}
	case protocol.TypePresentationStarted:
		var f protocol.PresentationStarted
		if env.Decode(&f) == nil {
			c.handler.OnPresentationStarted(f.Presenter)
		}
	case protocol.TypePresentationStopped:
		var f protocol.PresentationStopped
		if env.Decode(&f) == nil {
			c.handler.OnPresentationStopped(f.Presenter)
		}
	case protocol.TypeScreenFrame:
		var f protocol.ScreenFrame
		if env.Decode(&f) == nil {
			c.handler.OnScreenFrame(f)
		}
	case protocol.TypeError:
		var f protocol.Error
		if env.Decode(&f) == nil {
			c.handler.OnError(f.Message)
		}
	default:
		c.handler.OnServerFrame(env.Type, env.Raw)
	}
}

func (c *Client) send(v any) error {
	if !c.connected {
		return fmt.Errorf("client not connected")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wire.WriteFrame(c.conn, v)
}

// FileHash computes the declared content hash for an upload request.
func FileHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
