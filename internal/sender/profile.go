package sender

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"coopad.dev/coopad/internal/protocol"
)

// Profile maps one controller model's raw axis/button layout onto the wire
// frame. Profiles are plain data records: adding a controller means adding
// a record, not a type.
type Profile struct {
	Name string `yaml:"name" mapstructure:"name"`

	// Raw axis indices. A value of -1 means the device has no such axis.
	AxisLX int `yaml:"axis_lx" mapstructure:"axis_lx"`
	AxisLY int `yaml:"axis_ly" mapstructure:"axis_ly"`
	AxisRX int `yaml:"axis_rx" mapstructure:"axis_rx"`
	AxisRY int `yaml:"axis_ry" mapstructure:"axis_ry"`
	AxisLT int `yaml:"axis_lt" mapstructure:"axis_lt"`
	AxisRT int `yaml:"axis_rt" mapstructure:"axis_rt"`

	// Buttons maps a raw button index to a wire button bit.
	Buttons map[int]uint16 `yaml:"buttons" mapstructure:"buttons"`

	// DPadHat reads the d-pad from the first hat instead of buttons.
	DPadHat bool `yaml:"dpad_hat" mapstructure:"dpad_hat"`
	// InvertY flips the Y axes; most backends report stick-down as positive.
	InvertY bool `yaml:"invert_y" mapstructure:"invert_y"`
}

// Input is one raw sample from an input source.
type Input struct {
	Axes    []float64
	Buttons []bool
	Hat     [2]int // x: -1 left / +1 right, y: +1 up / -1 down
}

// Frame is the profile-mapped form of an Input, ready for the wire.
type Frame struct {
	Buttons        uint16
	LT, RT         uint8
	LX, LY, RX, RY int16
}

// Map translates a raw sample through the profile.
func (p Profile) Map(in Input) Frame {
	var f Frame

	for idx, bit := range p.Buttons {
		if idx >= 0 && idx < len(in.Buttons) && in.Buttons[idx] {
			f.Buttons |= bit
		}
	}
	if p.DPadHat {
		switch {
		case in.Hat[0] < 0:
			f.Buttons |= protocol.ButtonDPadLeft
		case in.Hat[0] > 0:
			f.Buttons |= protocol.ButtonDPadRight
		}
		switch {
		case in.Hat[1] > 0:
			f.Buttons |= protocol.ButtonDPadUp
		case in.Hat[1] < 0:
			f.Buttons |= protocol.ButtonDPadDown
		}
	}

	f.LX = stick(stickAxis(in, p.AxisLX))
	f.RX = stick(stickAxis(in, p.AxisRX))
	ly := stickAxis(in, p.AxisLY)
	ry := stickAxis(in, p.AxisRY)
	if p.InvertY {
		ly, ry = -ly, -ry
	}
	f.LY = stick(ly)
	f.RY = stick(ry)

	f.LT = trigger(triggerAxis(in, p.AxisLT))
	f.RT = trigger(triggerAxis(in, p.AxisRT))
	return f
}

// An absent stick axis rests at center; an absent trigger rests at -1,
// the released end of the device range.
func stickAxis(in Input, idx int) float64 {
	if idx < 0 || idx >= len(in.Axes) {
		return 0
	}
	return in.Axes[idx]
}

func triggerAxis(in Input, idx int) float64 {
	if idx < 0 || idx >= len(in.Axes) {
		return -1
	}
	return in.Axes[idx]
}

func stick(v float64) int16 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return int16(v * 32767)
}

// trigger converts the -1..1 device range to 0..255.
func trigger(v float64) uint8 {
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	return uint8((v + 1) / 2 * 255)
}

// builtins covers the common controllers. Indices follow the usual
// SDL/evdev numbering for each model.
var builtins = map[string]Profile{
	"generic": {
		Name:   "generic",
		AxisLX: 0, AxisLY: 1, AxisRX: 2, AxisRY: 3, AxisLT: 4, AxisRT: 5,
		Buttons: map[int]uint16{
			0: protocol.ButtonA, 1: protocol.ButtonB,
			2: protocol.ButtonX, 3: protocol.ButtonY,
			4: protocol.ButtonLeftShoulder, 5: protocol.ButtonRightShoulder,
			6: protocol.ButtonBack, 7: protocol.ButtonStart,
			8: protocol.ButtonLeftThumb, 9: protocol.ButtonRightThumb,
		},
		DPadHat: true,
		InvertY: true,
	},
	"xbox360": {
		Name:   "xbox360",
		AxisLX: 0, AxisLY: 1, AxisRX: 3, AxisRY: 4, AxisLT: 2, AxisRT: 5,
		Buttons: map[int]uint16{
			0: protocol.ButtonA, 1: protocol.ButtonB,
			2: protocol.ButtonX, 3: protocol.ButtonY,
			4: protocol.ButtonLeftShoulder, 5: protocol.ButtonRightShoulder,
			6: protocol.ButtonBack, 7: protocol.ButtonStart,
			9: protocol.ButtonLeftThumb, 10: protocol.ButtonRightThumb,
		},
		DPadHat: true,
		InvertY: true,
	},
	"ps4": {
		Name:   "ps4",
		AxisLX: 0, AxisLY: 1, AxisRX: 2, AxisRY: 3, AxisLT: 4, AxisRT: 5,
		Buttons: map[int]uint16{
			0: protocol.ButtonA, 1: protocol.ButtonB,
			2: protocol.ButtonX, 3: protocol.ButtonY,
			4: protocol.ButtonBack, 6: protocol.ButtonStart,
			7: protocol.ButtonLeftThumb, 8: protocol.ButtonRightThumb,
			9: protocol.ButtonLeftShoulder, 10: protocol.ButtonRightShoulder,
		},
		DPadHat: true,
		InvertY: true,
	},
	"ps5": {
		Name:   "ps5",
		AxisLX: 0, AxisLY: 1, AxisRX: 2, AxisRY: 3, AxisLT: 4, AxisRT: 5,
		Buttons: map[int]uint16{
			0: protocol.ButtonA, 1: protocol.ButtonB,
			2: protocol.ButtonX, 3: protocol.ButtonY,
			4: protocol.ButtonBack, 6: protocol.ButtonStart,
			7: protocol.ButtonLeftThumb, 8: protocol.ButtonRightThumb,
			9: protocol.ButtonLeftShoulder, 10: protocol.ButtonRightShoulder,
		},
		DPadHat: true,
		InvertY: true,
	},
	"switch_pro": {
		Name:   "switch_pro",
		AxisLX: 0, AxisLY: 1, AxisRX: 2, AxisRY: 3, AxisLT: -1, AxisRT: -1,
		Buttons: map[int]uint16{
			0: protocol.ButtonB, 1: protocol.ButtonA,
			2: protocol.ButtonY, 3: protocol.ButtonX,
			5: protocol.ButtonLeftShoulder, 6: protocol.ButtonRightShoulder,
			8: protocol.ButtonBack, 9: protocol.ButtonStart,
			10: protocol.ButtonLeftThumb, 11: protocol.ButtonRightThumb,
		},
		DPadHat: true,
		InvertY: true,
	},
	"switch_joycon": {
		Name:   "switch_joycon",
		AxisLX: 0, AxisLY: 1, AxisRX: -1, AxisRY: -1, AxisLT: -1, AxisRT: -1,
		Buttons: map[int]uint16{
			0: protocol.ButtonB, 1: protocol.ButtonA,
			2: protocol.ButtonY, 3: protocol.ButtonX,
			5: protocol.ButtonLeftShoulder, 6: protocol.ButtonRightShoulder,
			8: protocol.ButtonBack, 9: protocol.ButtonStart,
		},
		DPadHat: true,
		InvertY: true,
	},
}

// BuiltinProfiles lists the built-in profile names.
func BuiltinProfiles() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// LoadProfileFile parses extra profiles from a YAML file keyed by name.
func LoadProfileFile(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile file: %w", err)
	}
	var out map[string]Profile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("profile file %s: %w", path, err)
	}
	for name, p := range out {
		if p.Name == "" {
			p.Name = name
			out[name] = p
		}
	}
	return out, nil
}

// ResolveProfile picks a profile by name, preferring file-provided profiles
// over built-ins, then applies field overrides from configuration.
func ResolveProfile(name, file string, overrides map[string]any) (Profile, error) {
	profiles := make(map[string]Profile, len(builtins))
	for k, v := range builtins {
		profiles[k] = v
	}
	if file != "" {
		extra, err := LoadProfileFile(file)
		if err != nil {
			return Profile{}, err
		}
		for k, v := range extra {
			profiles[k] = v
		}
	}

	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown controller profile %q", name)
	}

	if len(overrides) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &p,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return Profile{}, err
		}
		if err := dec.Decode(overrides); err != nil {
			return Profile{}, fmt.Errorf("profile overrides: %w", err)
		}
	}
	return p, nil
}
