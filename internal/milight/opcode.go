// Package milight drives white-light groups on a Milight/LimitlessLED wifi bridge.
//
// Commands are single opcodes wrapped in a 3-byte UDP datagram. The bridge
// forwards them over RF and never replies, so every send is fire-and-forget.
package milight

import (
	"fmt"
	"strings"
)

// Opcode is a single protocol byte understood by the bridge.
type Opcode byte

func (o Opcode) String() string {
	return fmt.Sprintf("0x%02X", byte(o))
}

// Group addresses one of the four white zones, or all of them.
type Group uint8

const (
	GroupAll Group = iota
	Group1
	Group2
	Group3
	Group4
)

// Valid reports whether g is one of the five addressable groups.
func (g Group) Valid() bool {
	return g <= Group4
}

func (g Group) String() string {
	if g == GroupAll {
		return "all"
	}
	return fmt.Sprintf("%d", uint8(g))
}

// ParseGroup converts a numeric selector into a Group.
func ParseGroup(n int) (Group, error) {
	if n < 0 || n > int(Group4) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidGroup, n)
	}
	return Group(n), nil
}

// Action is a symbolic command for a white group.
type Action uint8

const (
	On Action = iota
	Off
	BrightnessUp
	BrightnessDown
	WarmthUp
	WarmthDown
	FullBrightness
	NightMode

	actionCount
)

// Actions lists every supported action in table order.
var Actions = []Action{On, Off, BrightnessUp, BrightnessDown, WarmthUp, WarmthDown, FullBrightness, NightMode}

// Names match the values accepted by the -action flag.
var actionNames = [actionCount]string{
	On:             "on",
	Off:            "off",
	BrightnessUp:   "inc_brightness",
	BrightnessDown: "dec_brightness",
	WarmthUp:       "inc_warmth",
	WarmthDown:     "dec_warmth",
	FullBrightness: "bright_mode",
	NightMode:      "night_mode",
}

func (a Action) String() string {
	if a < actionCount {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Composite reports whether the action is sent as On followed by a mode opcode.
func (a Action) Composite() bool {
	return a == FullBrightness || a == NightMode
}

// ParseAction resolves an action name. Matching is case-insensitive.
func ParseAction(name string) (Action, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for a, s := range actionNames {
		if s == n {
			return Action(a), nil
		}
	}
	return 0, &UnsupportedActionError{Name: name}
}

// opcodes is indexed by [Action][Group]; column 0 is "all groups".
// Brightness and warmth steps apply to whichever group was addressed last,
// so their rows repeat the same byte.
var opcodes = [actionCount][Group4 + 1]Opcode{
	//              all   1     2     3     4
	On:             {0x35, 0x38, 0x3D, 0x37, 0x32},
	Off:            {0x39, 0x3B, 0x33, 0x3A, 0x36},
	BrightnessUp:   {0x3C, 0x3C, 0x3C, 0x3C, 0x3C},
	BrightnessDown: {0x34, 0x34, 0x34, 0x34, 0x34},
	WarmthUp:       {0x3E, 0x3E, 0x3E, 0x3E, 0x3E},
	WarmthDown:     {0x3F, 0x3F, 0x3F, 0x3F, 0x3F},
	FullBrightness: {0xB5, 0xB8, 0xBD, 0xB7, 0xB2},
	NightMode:      {0xB9, 0xBB, 0xB3, 0xBA, 0x0B},
}

// Lookup returns the opcode for an action addressed to a group.
func Lookup(a Action, g Group) (Opcode, error) {
	if a >= actionCount || !g.Valid() {
		return 0, &UnknownActionError{Action: a, Group: g}
	}
	return opcodes[a][g], nil
}

// Command is a resolved (action, group) pair.
type Command struct {
	Action Action
	Group  Group
}

func (c Command) String() string {
	return fmt.Sprintf("%s/%s", c.Action, c.Group)
}

// Describe returns every command that encodes to op.
// Group-independent opcodes are reported once, against GroupAll.
func Describe(op Opcode) []Command {
	var out []Command
	for a := Action(0); a < actionCount; a++ {
		row := opcodes[a]
		if row[0] == row[1] && row[1] == row[2] && row[2] == row[3] && row[3] == row[4] {
			if row[0] == op {
				out = append(out, Command{Action: a, Group: GroupAll})
			}
			continue
		}
		for g, v := range row {
			if v == op {
				out = append(out, Command{Action: a, Group: Group(g)})
			}
		}
	}
	return out
}
