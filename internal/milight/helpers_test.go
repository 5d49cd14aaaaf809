package milight

import (
	"net"
	"sync"
	"time"
)

// fakeClock only moves when told to or when something sleeps on it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentPacket struct {
	at     time.Time
	dst    string
	packet Packet
}

// recorder captures packets with the clock time they were handed over.
type recorder struct {
	clock Clock
	sent  []sentPacket
	// failAt makes the n-th send (1-based) fail with err.
	failAt int
	err    error
}

func (r *recorder) Send(dst *net.UDPAddr, p Packet) error {
	r.sent = append(r.sent, sentPacket{at: r.clock.Now(), dst: dst.String(), packet: p})
	if r.failAt == len(r.sent) {
		return r.err
	}
	return nil
}

func (r *recorder) opcodes() []Opcode {
	out := make([]Opcode, len(r.sent))
	for i, s := range r.sent {
		out[i] = s.packet.Opcode()
	}
	return out
}

var testAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 0, 230), Port: DefaultPort}

func newTestDispatcher(g Group, opts ...Option) (*Dispatcher, *fakeClock, *recorder) {
	clk := newFakeClock()
	rec := &recorder{clock: clk}
	opts = append([]Option{WithClock(clk), WithTransport(rec)}, opts...)
	d, err := NewDispatcher(testAddr, g, opts...)
	if err != nil {
		panic(err)
	}
	return d, clk, rec
}
