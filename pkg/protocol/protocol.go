// Package protocol defines the JSON control-frame vocabulary shared between
// the hub and its clients. Every frame carries a mandatory "type" field;
// the structs here are the canonical shapes for both directions.
package protocol

// Client to server frame types.
const (
	TypeRegister            = "register"
	TypeChat                = "chat"
	TypeFileUploadRequest   = "file_upload_request"
	TypeFileDataChunk       = "file_data_chunk"
	TypeFileDownloadRequest = "file_download_request"
	TypeScreenShareStart    = "screen_share_start"
	TypeScreenShareStop     = "screen_share_stop"
	TypeScreenFrame         = "screen_frame"
)

// Server to client frame types.
const (
	TypeRegistrationSuccess  = "registration_success"
	TypeError                = "error"
	TypeUserListUpdate       = "user_list_update"
	TypeChatMessage          = "chat_message"
	TypeSystemMessage        = "system_message"
	TypePrivateMessage       = "private_message"
	TypeFileAvailable        = "file_available"
	TypeUploadConfirmed      = "upload_confirmed"
	TypeUploadProgress       = "upload_progress"
	TypeFileDataStart        = "file_data_start"
	TypeFileDataComplete     = "file_data_complete"
	TypePresentationStarted  = "presentation_started"
	TypePresentationStopped  = "presentation_stopped"
)

// Chat message kinds stored in the log and echoed inside chat frames.
const (
	KindChat    = "chat"
	KindSystem  = "system"
	KindPrivate = "private"
)

// FileChunkSize is the fixed slice size for chunked file transfer in both
// directions. Chunk bytes travel hex-encoded inside JSON frames.
const FileChunkSize = 4096

type Register struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	ClientTime   string `json:"client_time,omitempty"`
	VideoUDPPort int    `json:"video_udp_port,omitempty"`
	AudioUDPPort int    `json:"audio_udp_port,omitempty"`
}

type Chat struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type FileUploadRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	FileHash string `json:"file_hash"`
}

// FileDataChunk is used in both directions: upload chunks from the client
// and download chunks from the server.
type FileDataChunk struct {
	Type       string `json:"type"`
	FileID     string `json:"file_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkData  string `json:"chunk_data"`
}

type FileDownloadRequest struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type ScreenShareStart struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type ScreenShareStop struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// ScreenFrame carries one presenter frame. FrameData is base64 on the wire;
// the Presenter field is filled in by the server on the way out.
type ScreenFrame struct {
	Type      string  `json:"type"`
	FrameData string  `json:"frame_data"`
	Format    string  `json:"format"`
	Timestamp float64 `json:"timestamp"`
	Presenter string  `json:"presenter,omitempty"`
}

type RegistrationSuccess struct {
	Type       string `json:"type"`
	Username   string `json:"username"`
	ServerTime string `json:"server_time"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type UserInfo struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	JoinedAt string `json:"joined_at"`
}

type UserListUpdate struct {
	Type             string     `json:"type"`
	Users            []UserInfo `json:"users"`
	CurrentPresenter *string    `json:"current_presenter"`
}

// ChatMessage is one entry of the chat log. The same shape is delivered
// inside chat_message, system_message and private_message frames.
type ChatMessage struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Kind      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
}

type ChatMessageFrame struct {
	Type string      `json:"type"`
	Data ChatMessage `json:"data"`
}

type FileInfo struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	Uploader   string `json:"uploader"`
	UploadTime string `json:"upload_time"`
}

type FileAvailable struct {
	Type     string   `json:"type"`
	FileInfo FileInfo `json:"file_info"`
}

type UploadConfirmed struct {
	Type    string `json:"type"`
	FileID  string `json:"file_id"`
	Message string `json:"message,omitempty"`
}

type UploadProgress struct {
	Type          string  `json:"type"`
	Progress      float64 `json:"progress"`
	BytesReceived int64   `json:"bytes_received"`
	FileSize      int64   `json:"file_size"`
}

type FileDataStart struct {
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	TotalChunks int    `json:"total_chunks"`
}

type FileDataComplete struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

type PresentationStarted struct {
	Type      string `json:"type"`
	Presenter string `json:"presenter"`
	Timestamp string `json:"timestamp"`
}

type PresentationStopped struct {
	Type      string `json:"type"`
	Presenter string `json:"presenter"`
	Timestamp string `json:"timestamp"`
}
