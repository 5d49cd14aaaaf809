package milight

import (
	"errors"
	"testing"
)

func TestLookup_Table(t *testing.T) {
	tests := []struct {
		action Action
		want   [5]Opcode // all, 1, 2, 3, 4
	}{
		{On, [5]Opcode{0x35, 0x38, 0x3D, 0x37, 0x32}},
		{Off, [5]Opcode{0x39, 0x3B, 0x33, 0x3A, 0x36}},
		{FullBrightness, [5]Opcode{0xB5, 0xB8, 0xBD, 0xB7, 0xB2}},
		{NightMode, [5]Opcode{0xB9, 0xBB, 0xB3, 0xBA, 0x0B}},
		{BrightnessUp, [5]Opcode{0x3C, 0x3C, 0x3C, 0x3C, 0x3C}},
		{BrightnessDown, [5]Opcode{0x34, 0x34, 0x34, 0x34, 0x34}},
		{WarmthUp, [5]Opcode{0x3E, 0x3E, 0x3E, 0x3E, 0x3E}},
		{WarmthDown, [5]Opcode{0x3F, 0x3F, 0x3F, 0x3F, 0x3F}},
	}

	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			for g := GroupAll; g <= Group4; g++ {
				got, err := Lookup(tt.action, g)
				if err != nil {
					t.Fatalf("Lookup(%s, %s) error: %v", tt.action, g, err)
				}
				if got != tt.want[g] {
					t.Errorf("Lookup(%s, %s) = %s, want %s", tt.action, g, got, tt.want[g])
				}
			}
		})
	}
}

func TestLookup_Total(t *testing.T) {
	for _, a := range Actions {
		for g := GroupAll; g <= Group4; g++ {
			if _, err := Lookup(a, g); err != nil {
				t.Errorf("Lookup(%s, %s) returned %v", a, g, err)
			}
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		group  Group
	}{
		{"action_out_of_range", actionCount, Group1},
		{"group_out_of_range", On, Group(5)},
		{"both_out_of_range", Action(200), Group(200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lookup(tt.action, tt.group)
			if !errors.Is(err, ErrUnknownAction) {
				t.Fatalf("Lookup error = %v, want ErrUnknownAction", err)
			}
			var uerr *UnknownActionError
			if !errors.As(err, &uerr) {
				t.Fatalf("error %T is not *UnknownActionError", err)
			}
			if uerr.Action != tt.action || uerr.Group != tt.group {
				t.Errorf("UnknownActionError = %+v", uerr)
			}
		})
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name string
		want Action
	}{
		{"on", On},
		{"off", Off},
		{"inc_brightness", BrightnessUp},
		{"dec_brightness", BrightnessDown},
		{"inc_warmth", WarmthUp},
		{"dec_warmth", WarmthDown},
		{"bright_mode", FullBrightness},
		{"night_mode", NightMode},
		{"  ON ", On},
		{"Night_Mode", NightMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAction(tt.name)
			if err != nil {
				t.Fatalf("ParseAction(%q) error: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseAction(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestParseAction_Unsupported(t *testing.T) {
	for _, name := range []string{"", "disco_mode", "inc_disco_speed", "blink"} {
		_, err := ParseAction(name)
		if !errors.Is(err, ErrUnsupportedAction) {
			t.Errorf("ParseAction(%q) error = %v, want ErrUnsupportedAction", name, err)
		}
		if errors.Is(err, ErrTransport) || errors.Is(err, ErrUnknownAction) {
			t.Errorf("ParseAction(%q) error should be distinct from transport/table errors", name)
		}
	}
}

func TestActionString_RoundTrip(t *testing.T) {
	for _, a := range Actions {
		got, err := ParseAction(a.String())
		if err != nil || got != a {
			t.Errorf("ParseAction(%q) = %s, %v", a.String(), got, err)
		}
	}
}

func TestParseGroup(t *testing.T) {
	for n := 0; n <= 4; n++ {
		g, err := ParseGroup(n)
		if err != nil || int(g) != n {
			t.Errorf("ParseGroup(%d) = %d, %v", n, g, err)
		}
	}
	for _, n := range []int{-1, 5, 255} {
		if _, err := ParseGroup(n); !errors.Is(err, ErrInvalidGroup) {
			t.Errorf("ParseGroup(%d) error = %v, want ErrInvalidGroup", n, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	got := Describe(0x3D)
	if len(got) != 1 || got[0] != (Command{Action: On, Group: Group2}) {
		t.Errorf("Describe(0x3D) = %v", got)
	}

	got = Describe(0x3C)
	if len(got) != 1 || got[0] != (Command{Action: BrightnessUp, Group: GroupAll}) {
		t.Errorf("Describe(0x3C) = %v", got)
	}

	got = Describe(0x0B)
	if len(got) != 1 || got[0] != (Command{Action: NightMode, Group: Group4}) {
		t.Errorf("Describe(0x0B) = %v", got)
	}

	if got := Describe(0x00); len(got) != 0 {
		t.Errorf("Describe(0x00) = %v, want none", got)
	}
}
