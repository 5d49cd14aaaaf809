package milight

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MinInterval is the spacing the RF link needs between two commands.
const MinInterval = 100 * time.Millisecond

// Dispatcher sends commands to one group on one bridge.
// Consecutive sends are spaced at least MinInterval apart; the wait is a
// plain blocking sleep.
type Dispatcher struct {
	dst       *net.UDPAddr
	group     Group
	transport Transport
	clock     Clock
	interval  time.Duration
	// Only throttle when both sends share a wall-clock second.
	sameSecond bool
	logger     zerolog.Logger

	mu       sync.Mutex
	lastSend time.Time
	sent     int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransport replaces the default UDP transport.
func WithTransport(t Transport) Option {
	return func(d *Dispatcher) { d.transport = t }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMinInterval overrides the spacing between sends. Negative values are treated as zero.
func WithMinInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval < 0 {
			interval = 0
		}
		d.interval = interval
	}
}

// WithSameSecondWindow restores the legacy rule that skips throttling when
// two sends straddle a one-second boundary.
func WithSameSecondWindow(enabled bool) Option {
	return func(d *Dispatcher) { d.sameSecond = enabled }
}

// WithLogger sets the logger used for per-send debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher bound to dst and group.
func NewDispatcher(dst *net.UDPAddr, group Group, opts ...Option) (*Dispatcher, error) {
	if !group.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidGroup, group)
	}
	if dst == nil {
		return nil, fmt.Errorf("destination address is required")
	}

	d := &Dispatcher{
		dst:       copyAddr(dst),
		group:     group,
		transport: NewUDPTransport(),
		clock:     SystemClock,
		interval:  MinInterval,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("group", group.String()).Str("addr", d.dst.String()).Logger()

	return d, nil
}

// Group returns the group the dispatcher is bound to.
func (d *Dispatcher) Group() Group { return d.group }

// Addr returns a copy of the destination address.
func (d *Dispatcher) Addr() *net.UDPAddr {
	return copyAddr(d.dst)
}

func copyAddr(a *net.UDPAddr) *net.UDPAddr {
	return &net.UDPAddr{IP: append(net.IP(nil), a.IP...), Port: a.Port, Zone: a.Zone}
}

// LastSend returns the time of the most recent transmission attempt.
func (d *Dispatcher) LastSend() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSend
}

// Sent returns the number of datagrams attempted so far.
func (d *Dispatcher) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

func (d *Dispatcher) On() error             { return d.Do(On) }
func (d *Dispatcher) Off() error            { return d.Do(Off) }
func (d *Dispatcher) BrightnessUp() error   { return d.Do(BrightnessUp) }
func (d *Dispatcher) BrightnessDown() error { return d.Do(BrightnessDown) }
func (d *Dispatcher) WarmthUp() error       { return d.Do(WarmthUp) }
func (d *Dispatcher) WarmthDown() error     { return d.Do(WarmthDown) }
func (d *Dispatcher) FullBrightness() error { return d.Do(FullBrightness) }
func (d *Dispatcher) NightMode() error      { return d.Do(NightMode) }

// Do performs one send cycle for the action. Composite actions switch the
// group on first and abort if that fails.
func (d *Dispatcher) Do(a Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a.Composite() {
		if err := d.dispatch(On); err != nil {
			return err
		}
	}
	return d.dispatch(a)
}

func (d *Dispatcher) dispatch(a Action) error {
	op, err := Lookup(a, d.group)
	if err != nil {
		return err
	}

	if wait := d.delay(d.clock.Now()); wait > 0 {
		d.logger.Debug().Dur("wait", wait).Str("action", a.String()).Msg("Throttling")
		d.clock.Sleep(wait)
	}

	err = d.transport.Send(d.dst, NewPacket(op))
	d.lastSend = d.clock.Now()
	d.sent++

	if err != nil {
		return err
	}

	d.logger.Debug().Str("action", a.String()).Stringer("opcode", op).Msg("Sent")
	return nil
}

// delay returns how long to wait before sending at now.
func (d *Dispatcher) delay(now time.Time) time.Duration {
	if d.lastSend.IsZero() {
		return 0
	}
	if d.sameSecond && now.Unix() != d.lastSend.Unix() {
		return 0
	}

	elapsed := now.Sub(d.lastSend)
	if elapsed < 0 {
		// Clock stepped backwards; wait a full interval.
		return d.interval
	}
	if elapsed < d.interval {
		return d.interval - elapsed
	}
	return 0
}
