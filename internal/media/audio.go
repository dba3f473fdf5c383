package media

import (
	"encoding/binary"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"lanhub/internal/state"
	"lanhub/internal/wire"
)

// AudioMixer ingests PCM16 mono chunks, keeps the latest chunk per sender
// and on every arrival mixes all other senders' chunks into one outbound
// packet per destination. The mix is receive-triggered: no fixed interval,
// no timestamp alignment, last write wins per sender.
type AudioMixer struct {
	registry *state.Registry
	conn     *net.UDPConn
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	buffers map[string][]byte
}

func NewAudioMixer(registry *state.Registry, conn *net.UDPConn) *AudioMixer {
	return &AudioMixer{
		registry: registry,
		conn:     conn,
		done:     make(chan struct{}),
		buffers:  make(map[string][]byte),
	}
}

func (m *AudioMixer) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *AudioMixer) Stop() {
	close(m.done)
	m.conn.Close()
	m.wg.Wait()
}

// RemoveSender drops a disconnected client's buffered chunk so it stops
// contributing to future mixes.
func (m *AudioMixer) RemoveSender(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, username)
}

func (m *AudioMixer) run() {
	defer m.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-m.done:
			return
		default:
		}

		m.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-m.done:
				return
			default:
				log.Printf("audio mixer read error: %v", err)
				continue
			}
		}

		m.handlePacket(buf[:n], addr)
	}
}

func (m *AudioMixer) handlePacket(data []byte, src *net.UDPAddr) {
	sender, pcm, ok := wire.ParseMediaPacket(data)
	if !ok {
		return
	}

	if sess, ok := m.registry.Get(sender); ok && sess.Endpoint(state.MediumAudio) == nil {
		m.registry.SetEndpoint(sender, state.MediumAudio, src)
	}

	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)

	m.mu.Lock()
	m.buffers[sender] = chunk
	senders := make([]string, 0, len(m.buffers))
	chunks := make([][]byte, 0, len(m.buffers))
	for name := range m.buffers {
		if name != sender {
			senders = append(senders, name)
		}
	}
	sort.Strings(senders)
	for _, name := range senders {
		chunks = append(chunks, m.buffers[name])
	}
	m.mu.Unlock()

	if len(chunks) == 0 {
		return
	}

	mixed := MixPCM16(chunks)
	if len(mixed) == 0 {
		return
	}
	packet := wire.EncodeMixedPacket(senders, mixed)

	for _, sess := range m.registry.Snapshot() {
		if sess.Username == sender {
			continue
		}
		ep := sess.Endpoint(state.MediumAudio)
		if ep == nil {
			continue
		}
		if _, err := m.conn.WriteToUDP(packet, ep); err != nil {
			log.Printf("audio mix to %s failed: %v", sess.Username, err)
		}
	}
}

// MixPCM16 element-wise averages little-endian PCM16 chunks. Buffers are
// not padded: the mix covers only the common leading length, matching the
// shortest contributing chunk.
func MixPCM16(chunks [][]byte) []byte {
	if len(chunks) == 0 {
		return nil
	}

	minLen := len(chunks[0])
	for _, c := range chunks[1:] {
		if len(c) < minLen {
			minLen = len(c)
		}
	}
	minLen -= minLen % 2
	if minLen == 0 {
		return nil
	}

	out := make([]byte, minLen)
	n := int32(len(chunks))
	for i := 0; i < minLen; i += 2 {
		var sum int32
		for _, c := range chunks {
			sum += int32(int16(binary.LittleEndian.Uint16(c[i:])))
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(sum/n)))
	}
	return out
}
