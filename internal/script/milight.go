package script

import (
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/milight/internal/bridge"
	"github.com/dokzlo13/milight/internal/milight"
)

// groupMethods maps Lua method names to actions.
var groupMethods = map[string]milight.Action{
	"on":              milight.On,
	"off":             milight.Off,
	"brightness_up":   milight.BrightnessUp,
	"brightness_down": milight.BrightnessDown,
	"warmth_up":       milight.WarmthUp,
	"warmth_down":     milight.WarmthDown,
	"full_brightness": milight.FullBrightness,
	"night_mode":      milight.NightMode,
}

// MilightModule provides bridge commands to Lua
type MilightModule struct {
	rt *Runtime
}

// NewMilightModule creates a new milight module
func NewMilightModule(rt *Runtime) *MilightModule {
	return &MilightModule{rt: rt}
}

// Loader is the module loader for Lua
func (m *MilightModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "group", L.NewFunction(m.group))
	L.SetField(mod, "send", L.NewFunction(m.send))
	L.SetField(mod, "sleep", L.NewFunction(m.sleep))
	L.SetField(mod, "ALL", lua.LNumber(milight.GroupAll))
	L.SetField(mod, "MAX_STEPS", lua.LNumber(bridge.MaxSteps))

	L.Push(mod)
	return 1
}

// group(n) returns an object whose methods send to group n.
// Methods take an optional step count: g:brightness_up(3).
func (m *MilightModule) group(L *lua.LState) int {
	g, err := milight.ParseGroup(L.CheckInt(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	obj := L.NewTable()
	L.SetField(obj, "id", lua.LNumber(g))
	for name, action := range groupMethods {
		action := action
		L.SetField(obj, name, L.NewFunction(func(L *lua.LState) int {
			// Argument 1 is self when called with ':'
			steps := L.OptInt(2, 1)
			return m.invoke(L, bridge.Request{Group: g, Action: action, Steps: steps})
		}))
	}

	L.Push(obj)
	return 1
}

type sendArgs struct {
	Group  int
	Action string
	Steps  int
}

// send{group=, action=, steps=}
func (m *MilightModule) send(L *lua.LState) int {
	var args sendArgs
	if err := gluamapper.Map(L.CheckTable(1), &args); err != nil {
		L.ArgError(1, err.Error())
		return 0
	}

	req, err := bridge.ParseRequest(args.Group, args.Action, args.Steps)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	return m.invoke(L, req)
}

func (m *MilightModule) invoke(L *lua.LState, req bridge.Request) int {
	req.Source = "script"
	res, err := m.rt.invoker.Invoke(m.rt.ctx, req)
	if err != nil {
		L.RaiseError("%s %s: %s", req.Action, req.Group, err.Error())
		return 0
	}
	L.Push(lua.LString(res.ID))
	return 1
}

// sleep(ms) blocks the script.
func (m *MilightModule) sleep(L *lua.LState) int {
	ms := L.CheckInt(1)
	if ms > 0 {
		m.rt.clock.Sleep(time.Duration(ms) * time.Millisecond)
	}
	return 0
}
