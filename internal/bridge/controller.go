// Package bridge serialises commands from several groups onto one wifi bridge.
//
// A milight.Dispatcher only spaces its own sends. The Controller owns one
// dispatcher per group and routes every datagram through a shared limiter,
// so commands for different groups on the same bridge are spaced as well.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/milight/internal/ledger"
	"github.com/dokzlo13/milight/internal/milight"
)

// MaxSteps caps repeated brightness/warmth pulses per request.
const MaxSteps = 30

// ErrInvalidSteps is returned for step counts outside 1..MaxSteps, or for
// steps > 1 on actions that are not incremental.
var ErrInvalidSteps = errors.New("invalid step count")

// Recorder persists command history. *ledger.Ledger implements it.
type Recorder interface {
	Append(e *ledger.Entry) error
}

// Options configures a Controller
type Options struct {
	Transport   milight.Transport // Default: milight.NewUDPTransport()
	Clock       milight.Clock     // Default: milight.SystemClock
	MinInterval time.Duration     // Default: milight.MinInterval
	SameSecond  bool
	Recorder    Recorder // Optional
}

// Request is a single command for one group
type Request struct {
	Group  milight.Group
	Action milight.Action
	Steps  int
	Source string
}

// Result describes what a request put on the wire
type Result struct {
	ID      string           `json:"id"`
	Group   milight.Group    `json:"group"`
	Action  string           `json:"action"`
	Opcodes []milight.Opcode `json:"-"`
	Sent    int              `json:"sent"`
}

// Controller drives all groups of one bridge
type Controller struct {
	addr      *net.UDPAddr
	transport milight.Transport
	clock     milight.Clock
	interval  time.Duration
	sameSec   bool
	recorder  Recorder
	limiter   *rate.Limiter // nil when SameSecond is set

	mu          sync.Mutex
	dispatchers [milight.Group4 + 1]*milight.Dispatcher
	// opcodes sent by the request in progress; guarded by mu
	inflight []milight.Opcode
}

// New creates a Controller for the bridge at addr
func New(addr *net.UDPAddr, opts Options) *Controller {
	if opts.Transport == nil {
		opts.Transport = milight.NewUDPTransport()
	}
	if opts.Clock == nil {
		opts.Clock = milight.SystemClock
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = milight.MinInterval
	}

	c := &Controller{
		addr:      addr,
		transport: opts.Transport,
		clock:     opts.Clock,
		interval:  opts.MinInterval,
		sameSec:   opts.SameSecond,
		recorder:  opts.Recorder,
	}
	// The legacy same-second rule has no bridge-wide pacing.
	if !opts.SameSecond {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return c
}

// Addr returns the bridge address
func (c *Controller) Addr() *net.UDPAddr {
	return c.addr
}

// ParseRequest validates raw selector values into a Request
func ParseRequest(group int, action string, steps int) (Request, error) {
	g, err := milight.ParseGroup(group)
	if err != nil {
		return Request{}, err
	}
	a, err := milight.ParseAction(action)
	if err != nil {
		return Request{}, err
	}
	if steps == 0 {
		steps = 1
	}
	return Request{Group: g, Action: a, Steps: steps}, nil
}

func incremental(a milight.Action) bool {
	switch a {
	case milight.BrightnessUp, milight.BrightnessDown, milight.WarmthUp, milight.WarmthDown:
		return true
	}
	return false
}

func validateSteps(req Request) error {
	if req.Steps < 1 || req.Steps > MaxSteps {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidSteps, req.Steps, MaxSteps)
	}
	if req.Steps > 1 && !incremental(req.Action) {
		return fmt.Errorf("%w: %s does not repeat", ErrInvalidSteps, req.Action)
	}
	return nil
}

// dispatcher returns the dispatcher for g, creating it on first use.
// Dispatchers send through c.send, so they must only be driven with mu held.
func (c *Controller) dispatcher(g milight.Group) (*milight.Dispatcher, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %d", milight.ErrInvalidGroup, g)
	}
	if d := c.dispatchers[g]; d != nil {
		return d, nil
	}

	d, err := milight.NewDispatcher(c.addr, g,
		milight.WithTransport(milight.TransportFunc(c.send)),
		milight.WithClock(c.clock),
		milight.WithMinInterval(c.interval),
		milight.WithSameSecondWindow(c.sameSec),
		milight.WithLogger(log.With().Str("bridge", c.addr.String()).Logger()),
	)
	if err != nil {
		return nil, err
	}
	c.dispatchers[g] = d
	return d, nil
}

// send paces every datagram across all groups; called with mu held.
func (c *Controller) send(dst *net.UDPAddr, p milight.Packet) error {
	if c.limiter != nil {
		now := c.clock.Now()
		if wait := c.limiter.ReserveN(now, 1).DelayFrom(now); wait > 0 {
			c.clock.Sleep(wait)
		}
	}
	c.inflight = append(c.inflight, p.Opcode())
	return c.transport.Send(dst, p)
}

// Invoke runs a request to completion. Steps are separate invocations of
// the dispatcher; cancelling ctx stops before the next step but never
// interrupts a throttle wait.
func (c *Controller) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.Steps == 0 {
		req.Steps = 1
	}
	if err := validateSteps(req); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.dispatcher(req.Group)
	if err != nil {
		return nil, err
	}

	c.inflight = c.inflight[:0]
	res := &Result{ID: ledger.NewID(), Group: req.Group, Action: req.Action.String()}
	started := c.clock.Now()

	for i := 0; i < req.Steps; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = d.Do(req.Action); err != nil {
			break
		}
	}
	res.Opcodes = append([]milight.Opcode(nil), c.inflight...)
	res.Sent = len(res.Opcodes)

	c.record(req, res, started, err)

	level := zerolog.InfoLevel
	if err != nil {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).
		Err(err).
		Str("id", res.ID).
		Str("source", req.Source).
		Str("group", req.Group.String()).
		Str("action", res.Action).
		Int("steps", req.Steps).
		Int("sent", res.Sent).
		Msg("Command dispatched")

	return res, err
}

func (c *Controller) record(req Request, res *Result, started time.Time, err error) {
	if c.recorder == nil {
		return
	}

	entry := &ledger.Entry{
		ID:        res.ID,
		Timestamp: started,
		Source:    req.Source,
		Bridge:    c.addr.String(),
		Group:     int(req.Group),
		Action:    res.Action,
		Steps:     req.Steps,
		Status:    ledger.StatusSent,
	}
	for _, op := range res.Opcodes {
		entry.Opcodes = append(entry.Opcodes, byte(op))
	}
	if err != nil {
		entry.Status = ledger.StatusFailed
		entry.Error = err.Error()
	}

	if err := c.recorder.Append(entry); err != nil {
		log.Warn().Err(err).Str("id", res.ID).Msg("Failed to record command")
	}
}
