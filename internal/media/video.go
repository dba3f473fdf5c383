// Package media runs the UDP relay loops: verbatim video frame fan-out and
// the receive-triggered audio mixer.
package media

import (
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"lanhub/internal/state"
	"lanhub/internal/wire"
)

const (
	readBufferSize = 65536
	readTimeout    = time.Second
)

// VideoRelay ingests one compressed frame per datagram and rebroadcasts it
// unchanged to every other registered video endpoint. Lossy by design: no
// reordering, retransmission or backpressure.
type VideoRelay struct {
	registry *state.Registry
	conn     *net.UDPConn
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewVideoRelay(registry *state.Registry, conn *net.UDPConn) *VideoRelay {
	return &VideoRelay{registry: registry, conn: conn, done: make(chan struct{})}
}

// Start launches the receive loop.
func (v *VideoRelay) Start() {
	v.wg.Add(1)
	go v.run()
}

// Stop signals the loop to exit and waits for it.
func (v *VideoRelay) Stop() {
	close(v.done)
	v.conn.Close()
	v.wg.Wait()
}

func (v *VideoRelay) run() {
	defer v.wg.Done()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-v.done:
			return
		default:
		}

		v.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-v.done:
				return
			default:
				log.Printf("video relay read error: %v", err)
				continue
			}
		}

		v.handlePacket(buf[:n], addr)
	}
}

func (v *VideoRelay) handlePacket(data []byte, src *net.UDPAddr) {
	username, _, ok := wire.ParseMediaPacket(data)
	if !ok {
		return
	}

	// Learn the sender's endpoint from the first packet when registration
	// did not declare one.
	if sess, ok := v.registry.Get(username); ok && sess.Endpoint(state.MediumVideo) == nil {
		v.registry.SetEndpoint(username, state.MediumVideo, src)
	}

	for _, sess := range v.registry.Snapshot() {
		if sess.Username == username {
			continue
		}
		ep := sess.Endpoint(state.MediumVideo)
		if ep == nil {
			continue
		}
		if _, err := v.conn.WriteToUDP(data, ep); err != nil {
			log.Printf("video relay to %s failed: %v", sess.Username, err)
		}
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
