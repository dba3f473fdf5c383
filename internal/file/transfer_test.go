package file_test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"lanhub/internal/events"
	"lanhub/internal/file"
	"lanhub/internal/state"
	"lanhub/internal/wire"
	"lanhub/pkg/protocol"
)

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

func (c *fakeConn) frames(t *testing.T) []*wire.Envelope {
	t.Helper()
	c.mu.Lock()
	data := make([]byte, c.buf.Len())
	copy(data, c.buf.Bytes())
	c.buf.Reset()
	c.mu.Unlock()

	var out []*wire.Envelope
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		env, err := wire.ReadFrame(r)
		if err != nil {
			t.Fatalf("parse captured frame: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func md5hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

type testEnv struct {
	svc      *file.Service
	registry *state.Registry
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	registry := state.NewRegistry()
	svc, err := file.NewService(dir, registry, events.NewBus())
	if err != nil {
		t.Fatalf("file service: %v", err)
	}
	return &testEnv{svc: svc, registry: registry, dir: dir}
}

func (e *testEnv) register(t *testing.T, username string) (*state.ClientSession, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := e.registry.Register(username, conn, 0, 0)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess, conn
}

// upload drives a complete chunked upload and returns the allocated file id.
func (e *testEnv) upload(t *testing.T, sess *state.ClientSession, conn *fakeConn, filename string, data []byte, hash string) string {
	t.Helper()
	err := e.svc.HandleUploadRequest(sess, protocol.FileUploadRequest{
		Type:     protocol.TypeFileUploadRequest,
		Filename: filename,
		FileSize: int64(len(data)),
		FileHash: hash,
	})
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}

	frames := conn.frames(t)
	if len(frames) != 1 || frames[0].Type != protocol.TypeUploadConfirmed {
		t.Fatalf("expected upload_confirmed, got %v", frames)
	}
	var confirmed protocol.UploadConfirmed
	frames[0].Decode(&confirmed)
	if confirmed.FileID == "" {
		t.Fatalf("upload_confirmed carried no file id")
	}

	for i := 0; i < len(data); i += protocol.FileChunkSize {
		end := i + protocol.FileChunkSize
		if end > len(data) {
			end = len(data)
		}
		e.svc.HandleChunk(sess, protocol.FileDataChunk{
			Type:      protocol.TypeFileDataChunk,
			FileID:    confirmed.FileID,
			ChunkData: hex.EncodeToString(data[i:end]),
		})
	}
	return confirmed.FileID
}

func TestUploadRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.register(t, "alice")

	bad := []protocol.FileUploadRequest{
		{Filename: "", FileSize: 100},
		{Filename: "a.txt", FileSize: 0},
		{Filename: "a.txt", FileSize: -5},
	}
	for _, req := range bad {
		if err := env.svc.HandleUploadRequest(sess, req); err != file.ErrInvalidFileInfo {
			t.Fatalf("req %+v: expected ErrInvalidFileInfo, got %v", req, err)
		}
	}
}

func TestUploadVerifiesAndAnnounces(t *testing.T) {
	env := newTestEnv(t)
	alice, connA := env.register(t, "alice")
	_, connB := env.register(t, "bob")

	data := bytes.Repeat([]byte("lanhub"), 2000) // 12000 bytes, 3 chunks
	env.upload(t, alice, connA, "notes.txt", data, md5hex(data))

	// Uploader saw one progress frame per chunk with progress reaching 100.
	frames := connA.frames(t)
	var progresses []protocol.UploadProgress
	for _, f := range frames {
		if f.Type == protocol.TypeUploadProgress {
			var p protocol.UploadProgress
			f.Decode(&p)
			progresses = append(progresses, p)
		}
	}
	if len(progresses) != 3 {
		t.Fatalf("expected 3 progress frames, got %d", len(progresses))
	}
	if last := progresses[len(progresses)-1]; last.Progress < 100 || last.BytesReceived != int64(len(data)) {
		t.Fatalf("final progress wrong: %+v", last)
	}

	// Everyone received the file_available announcement.
	var announced bool
	for _, f := range connB.frames(t) {
		if f.Type == protocol.TypeFileAvailable {
			var fa protocol.FileAvailable
			f.Decode(&fa)
			if fa.FileInfo.Filename != "notes.txt" || fa.FileInfo.Uploader != "alice" {
				t.Fatalf("unexpected file_available payload: %+v", fa.FileInfo)
			}
			announced = true
		}
	}
	if !announced {
		t.Fatalf("file_available never broadcast")
	}

	if n := env.svc.Count(); n != 1 {
		t.Fatalf("expected 1 verified file, got %d", n)
	}
}

func TestUploadHashMismatchDiscardsFile(t *testing.T) {
	env := newTestEnv(t)
	alice, connA := env.register(t, "alice")
	_, connB := env.register(t, "bob")

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i)
	}
	env.upload(t, alice, connA, "corrupt.bin", data, "0000deadbeef0000deadbeef0000dead")

	for _, f := range connB.frames(t) {
		if f.Type == protocol.TypeFileAvailable {
			t.Fatalf("hash mismatch must not announce file_available")
		}
	}
	if n := env.svc.Count(); n != 0 {
		t.Fatalf("expected no verified files, got %d", n)
	}

	// The partial file was removed from disk.
	entries, err := os.ReadDir(env.dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty upload dir, found %d entries", len(entries))
	}
}

func TestDownloadChunkSequence(t *testing.T) {
	env := newTestEnv(t)
	alice, connA := env.register(t, "alice")
	bob, connB := env.register(t, "bob")

	data := make([]byte, 10000) // ceil(10000/4096) = 3 chunks
	for i := range data {
		data[i] = byte(i * 7)
	}
	fileID := env.upload(t, alice, connA, "blob.bin", data, md5hex(data))
	connB.frames(t) // discard the file_available announcement

	if err := env.svc.HandleDownload(bob, fileID); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	frames := connB.frames(t)
	if frames[0].Type != protocol.TypeFileDataStart {
		t.Fatalf("expected file_data_start first, got %q", frames[0].Type)
	}
	var start protocol.FileDataStart
	frames[0].Decode(&start)
	if start.TotalChunks != 3 || start.FileSize != int64(len(data)) {
		t.Fatalf("unexpected file_data_start: %+v", start)
	}

	var reassembled []byte
	next := 0
	for _, f := range frames[1 : len(frames)-1] {
		if f.Type != protocol.TypeFileDataChunk {
			t.Fatalf("expected file_data_chunk, got %q", f.Type)
		}
		var chunk protocol.FileDataChunk
		f.Decode(&chunk)
		if chunk.ChunkIndex != next {
			t.Fatalf("chunk index out of order: expected %d, got %d", next, chunk.ChunkIndex)
		}
		next++
		raw, err := hex.DecodeString(chunk.ChunkData)
		if err != nil {
			t.Fatalf("chunk %d not hex: %v", chunk.ChunkIndex, err)
		}
		reassembled = append(reassembled, raw...)
	}
	if next != 3 {
		t.Fatalf("expected 3 chunks, got %d", next)
	}

	last := frames[len(frames)-1]
	if last.Type != protocol.TypeFileDataComplete {
		t.Fatalf("expected file_data_complete last, got %q", last.Type)
	}

	if !bytes.Equal(reassembled, data) {
		t.Fatalf("downloaded bytes differ from uploaded")
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	env := newTestEnv(t)
	bob, _ := env.register(t, "bob")

	if err := env.svc.HandleDownload(bob, "no-such-id"); err != file.ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestDownloadRejectsInFlightUpload(t *testing.T) {
	env := newTestEnv(t)
	alice, connA := env.register(t, "alice")
	bob, _ := env.register(t, "bob")

	err := env.svc.HandleUploadRequest(alice, protocol.FileUploadRequest{
		Filename: "partial.bin",
		FileSize: 100000,
		FileHash: "irrelevant",
	})
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	var confirmed protocol.UploadConfirmed
	connA.frames(t)[0].Decode(&confirmed)

	if err := env.svc.HandleDownload(bob, confirmed.FileID); err != file.ErrFileNotFound {
		t.Fatalf("in-flight upload must not be downloadable, got %v", err)
	}
}

func TestAbortUploadCleansUp(t *testing.T) {
	env := newTestEnv(t)
	alice, connA := env.register(t, "alice")

	err := env.svc.HandleUploadRequest(alice, protocol.FileUploadRequest{
		Filename: "doomed.bin",
		FileSize: 50000,
		FileHash: "irrelevant",
	})
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	connA.frames(t)

	env.svc.HandleChunk(alice, protocol.FileDataChunk{
		ChunkData: hex.EncodeToString(make([]byte, 4096)),
	})

	env.svc.AbortUpload("alice")

	entries, _ := os.ReadDir(env.dir)
	if len(entries) != 0 {
		t.Fatalf("partial file survived abort")
	}
	if n := env.svc.Count(); n != 0 {
		t.Fatalf("record survived abort")
	}

	// Aborting again is a no-op.
	env.svc.AbortUpload("alice")
}
