// Package file implements the chunked upload/download protocol with md5
// integrity verification over the per-file registry.
package file

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lanhub/internal/events"
	"lanhub/internal/state"
	"lanhub/pkg/protocol"
)

var (
	ErrInvalidFileInfo = errors.New("invalid file information")
	ErrFileNotFound    = errors.New("file not found")
)

// Record describes one fully received, hash-verified file. While an upload
// is in flight the record exists in receiving state and is invisible to
// downloads and listings.
type Record struct {
	FileID     string
	Filename   string
	Size       int64
	Hash       string
	Uploader   string
	UploadTime time.Time
	Path       string
	Downloads  int

	receiving bool
}

type uploadSession struct {
	fileID   string
	path     string
	f        *os.File
	received int64
	size     int64
}

// Service owns the file registry and the per-uploader transfer sessions.
type Service struct {
	dir      string
	registry *state.Registry
	bus      *events.Bus

	mu       sync.Mutex
	files    map[string]*Record
	sessions map[string]*uploadSession
}

func NewService(dir string, registry *state.Registry, bus *events.Bus) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Service{
		dir:      dir,
		registry: registry,
		bus:      bus,
		files:    make(map[string]*Record),
		sessions: make(map[string]*uploadSession),
	}, nil
}

// HandleUploadRequest validates the declared file info, allocates a file id
// and opens the upload session. The accepted reply carries the id the
// client must echo with each chunk.
func (s *Service) HandleUploadRequest(sess *state.ClientSession, req protocol.FileUploadRequest) error {
	if req.Filename == "" || req.FileSize <= 0 {
		return ErrInvalidFileInfo
	}

	fileID := newFileID(sess.Username, req.Filename)
	path := filepath.Join(s.dir, fileID)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}

	rec := &Record{
		FileID:     fileID,
		Filename:   sanitizeFilename(req.Filename),
		Size:       req.FileSize,
		Hash:       req.FileHash,
		Uploader:   sess.Username,
		UploadTime: time.Now(),
		Path:       path,
		receiving:  true,
	}

	s.mu.Lock()
	// A second upload request from the same user abandons the first.
	if old, ok := s.sessions[sess.Username]; ok {
		s.discardLocked(sess.Username, old)
	}
	s.files[fileID] = rec
	s.sessions[sess.Username] = &uploadSession{
		fileID: fileID,
		path:   path,
		f:      f,
		size:   req.FileSize,
	}
	s.mu.Unlock()

	log.Printf("upload started: %s -> %s (%d bytes, id %s)", sess.Username, rec.Filename, req.FileSize, fileID)
	return sess.SendFrame(protocol.UploadConfirmed{
		Type:    protocol.TypeUploadConfirmed,
		FileID:  fileID,
		Message: "Ready to receive file data",
	})
}

// HandleChunk appends one hex-decoded chunk to the uploader's open file and
// reports progress. When the declared size is reached the file is verified
// against the declared hash; a mismatch discards the file and its record
// with server-side logging only.
func (s *Service) HandleChunk(sess *state.ClientSession, chunk protocol.FileDataChunk) {
	data, err := hex.DecodeString(chunk.ChunkData)
	if err != nil {
		log.Printf("bad chunk data from %s: %v", sess.Username, err)
		return
	}

	s.mu.Lock()
	up, ok := s.sessions[sess.Username]
	if !ok {
		s.mu.Unlock()
		return
	}

	if _, err := up.f.Write(data); err != nil {
		s.discardLocked(sess.Username, up)
		s.mu.Unlock()
		log.Printf("write chunk for %s: %v", sess.Username, err)
		return
	}
	up.received += int64(len(data))
	received, size := up.received, up.size
	complete := received >= size
	s.mu.Unlock()

	progress := protocol.UploadProgress{
		Type:          protocol.TypeUploadProgress,
		Progress:      float64(received) / float64(size) * 100,
		BytesReceived: received,
		FileSize:      size,
	}
	if err := sess.SendFrame(progress); err != nil {
		log.Printf("progress frame to %s failed: %v", sess.Username, err)
	}

	if complete {
		s.completeUpload(sess.Username)
	}
}

func (s *Service) completeUpload(username string) {
	s.mu.Lock()
	up, ok := s.sessions[username]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, username)
	rec := s.files[up.fileID]
	s.mu.Unlock()

	up.f.Close()
	if rec == nil {
		os.Remove(up.path)
		return
	}

	if !verifyFileHash(up.path, rec.Hash) {
		log.Printf("hash verification failed for %s (%s), discarding", rec.Filename, username)
		os.Remove(up.path)
		s.mu.Lock()
		delete(s.files, up.fileID)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	rec.receiving = false
	info := rec.info()
	s.mu.Unlock()

	log.Printf("upload complete: %s (%s)", rec.Filename, username)
	s.registry.Broadcast(protocol.FileAvailable{Type: protocol.TypeFileAvailable, FileInfo: info})
	s.bus.Publish(events.FileAvailable, map[string]any{
		"file_id":  info.FileID,
		"filename": info.Filename,
		"uploader": info.Uploader,
	})
}

// HandleDownload streams a stored file back to the requester as a
// file_data_start frame, hex-encoded 4 KiB chunks in ascending index order
// and a final file_data_complete.
func (s *Service) HandleDownload(sess *state.ClientSession, fileID string) error {
	s.mu.Lock()
	rec, ok := s.files[fileID]
	if !ok || rec.receiving {
		s.mu.Unlock()
		return ErrFileNotFound
	}
	rec.Downloads++
	path, filename := rec.Path, rec.Filename
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return ErrFileNotFound
	}

	totalChunks := (len(data) + protocol.FileChunkSize - 1) / protocol.FileChunkSize
	start := protocol.FileDataStart{
		Type:        protocol.TypeFileDataStart,
		Filename:    filename,
		FileSize:    int64(len(data)),
		TotalChunks: totalChunks,
	}
	if err := sess.SendFrame(start); err != nil {
		return err
	}

	for i := 0; i < len(data); i += protocol.FileChunkSize {
		end := i + protocol.FileChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := protocol.FileDataChunk{
			Type:       protocol.TypeFileDataChunk,
			ChunkIndex: i / protocol.FileChunkSize,
			ChunkData:  hex.EncodeToString(data[i:end]),
		}
		if err := sess.SendFrame(chunk); err != nil {
			return err
		}
	}

	log.Printf("download: %s fetched %s", sess.Username, filename)
	return sess.SendFrame(protocol.FileDataComplete{Type: protocol.TypeFileDataComplete, FileID: fileID})
}

// AbortUpload discards any in-flight upload session for a disconnecting
// user, removing the partial file and its receiving-state record.
func (s *Service) AbortUpload(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if up, ok := s.sessions[username]; ok {
		s.discardLocked(username, up)
	}
}

func (s *Service) discardLocked(username string, up *uploadSession) {
	delete(s.sessions, username)
	delete(s.files, up.fileID)
	up.f.Close()
	os.Remove(up.path)
	log.Printf("discarded partial upload %s from %s", up.fileID, username)
}

// Files lists all verified records.
func (s *Service) Files() []protocol.FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.FileInfo, 0, len(s.files))
	for _, rec := range s.files {
		if rec.receiving {
			continue
		}
		out = append(out, rec.info())
	}
	return out
}

// Count returns the number of verified records.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.files {
		if !rec.receiving {
			n++
		}
	}
	return n
}

func (r *Record) info() protocol.FileInfo {
	return protocol.FileInfo{
		FileID:     r.FileID,
		Filename:   r.Filename,
		FileSize:   r.Size,
		Uploader:   r.Uploader,
		UploadTime: r.UploadTime.Format(time.RFC3339),
	}
}

func newFileID(username, filename string) string {
	content := fmt.Sprintf("%s_%s_%d", username, filename, time.Now().UnixNano())
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

func verifyFileHash(path, expected string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]) == strings.ToLower(expected)
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", "\"", "_",
		"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	)
	name = replacer.Replace(name)
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}
	return name
}
