// Package script runs Lua command sequences against the bridge.
//
//	local milight = require("milight")
//	local kitchen = milight.group(2)
//	kitchen:on()
//	milight.sleep(500)
//	milight.send{group = 2, action = "dec_brightness", steps = 5}
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/milight"
)

// Invoker runs bridge requests. *bridge.Controller implements it.
type Invoker interface {
	Invoke(ctx context.Context, req bridge.Request) (*bridge.Result, error)
}

// Runtime is a single-use Lua VM. It is not safe for concurrent use.
type Runtime struct {
	L       *lua.LState
	invoker Invoker
	clock   milight.Clock
	ctx     context.Context
}

// NewRuntime creates a Lua VM with the milight and log modules preloaded.
func NewRuntime(invoker Invoker, clock milight.Clock) *Runtime {
	if clock == nil {
		clock = milight.SystemClock
	}

	r := &Runtime{
		L:       lua.NewState(),
		invoker: invoker,
		clock:   clock,
		ctx:     context.Background(),
	}

	r.L.PreloadModule("milight", NewMilightModule(r).Loader)
	r.L.PreloadModule("log", NewLogModule().Loader)

	return r
}

// RunFile executes a script file.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	r.ctx = ctx
	r.L.SetContext(ctx)

	start := time.Now()
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	log.Debug().Str("script", path).Dur("took", time.Since(start)).Msg("Script finished")
	return nil
}

// RunString executes Lua source.
func (r *Runtime) RunString(ctx context.Context, src string) error {
	r.ctx = ctx
	r.L.SetContext(ctx)

	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Close releases the VM.
func (r *Runtime) Close() {
	r.L.Close()
}
