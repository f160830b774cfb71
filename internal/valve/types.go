package valve

import "fmt"

// Valve limits accepted by the controller.
const (
	// MinTemperature is the lowest temperature (°C) a command may request.
	MinTemperature = 15.0

	// MaxTemperature is the highest temperature (°C) a command may request.
	MaxTemperature = 48.8

	// DefaultTemperature is the controller's factory default (100 °F).
	DefaultTemperature = 37.7

	// MinFlow and MaxFlow bound the flow percentage.
	MinFlow = 0.0
	MaxFlow = 100.0

	// DefaultFlow is used when the caller does not choose a flow rate.
	DefaultFlow = 100.0

	// SecondaryCount is the number of secondary valves a controller can address.
	SecondaryCount = 7

	// OffPayload is the all-zero payload sent for valves a command does not address.
	OffPayload = "00000000"
)

// Selector identifies a valve on the controller.
// The zero value is the primary valve; 1 through 7 are secondary valves.
type Selector uint8

// Primary selects the controller's primary valve.
const Primary Selector = 0

// Secondary returns the selector for secondary valve n (1-7).
// Out-of-range values are reported by Encode, not here.
func Secondary(n int) Selector {
	return Selector(n)
}

// IsPrimary reports whether s selects the primary valve.
func (s Selector) IsPrimary() bool {
	return s == Primary
}

// Index returns the secondary valve number (0 for the primary valve).
func (s Selector) Index() int {
	return int(s)
}

// Valid reports whether s addresses a valve the controller knows about.
func (s Selector) Valid() bool {
	return s <= SecondaryCount
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	if s.IsPrimary() {
		return "primary"
	}
	return fmt.Sprintf("secondary%d", int(s))
}

// prefix returns the wire prefix byte: 0x01 for primary, 0xN1 for secondary N.
func (s Selector) prefix() byte {
	if s.IsPrimary() {
		return 0x01
	}
	return byte(s)<<4 | 0x01
}

// selectorFromPrefix is the inverse of Selector.prefix.
func selectorFromPrefix(b byte) (Selector, bool) {
	if b&0x0F != 0x01 {
		return 0, false
	}
	hi := b >> 4
	if hi > SecondaryCount {
		return 0, false
	}
	return Selector(hi), true
}

// Mode is the outlet state a valve command requests.
type Mode string

// Valve modes.
const (
	ModeOff            Mode = "off"
	ModeShowerhead     Mode = "showerhead"
	ModeTubFiller      Mode = "tub_filler"
	ModeTubAndHandheld Mode = "tub_and_handheld"
	ModeStop           Mode = "stop"

	// ModeUnknown is produced by Decode for mode bytes outside the known set.
	// It cannot be encoded.
	ModeUnknown Mode = "unknown"
)

var modeBytes = map[Mode]byte{
	ModeOff:            0x00,
	ModeShowerhead:     0x01,
	ModeTubFiller:      0x02,
	ModeTubAndHandheld: 0x03,
	ModeStop:           0x40,
}

// byteModes is the reverse of modeBytes.
var byteModes = func() map[byte]Mode {
	m := make(map[byte]Mode, len(modeBytes))
	for mode, b := range modeBytes {
		m[b] = mode
	}
	return m
}()

// Valid reports whether m can be encoded.
func (m Mode) Valid() bool {
	_, ok := modeBytes[m]
	return ok
}

// Flowing reports whether m opens an outlet.
func (m Mode) Flowing() bool {
	switch m {
	case ModeShowerhead, ModeTubFiller, ModeTubAndHandheld:
		return true
	default:
		return false
	}
}

// Mode byte bits.
const (
	modeBitActive  = 0x01
	modeBitBathtub = 0x02
	modeBitStop    = 0x40
)

// Active reports whether bit 0 of the mode byte is set.
func (m Mode) Active() bool { return m.bit(modeBitActive) }

// Bathtub reports whether bit 1 of the mode byte is set, selecting the
// tub side rather than the shower side.
func (m Mode) Bathtub() bool { return m.bit(modeBitBathtub) }

// Stopped reports whether the stop bit is set.
func (m Mode) Stopped() bool { return m.bit(modeBitStop) }

// bit is false for modes without a known byte.
func (m Mode) bit(mask byte) bool {
	b, ok := modeBytes[m]
	return ok && b&mask != 0
}

// OpenOutlets reports which of the valve's three outlets the mode opens.
// The low mode bits are an outlet mask; ModeStop and ModeUnknown open none.
func (m Mode) OpenOutlets() [3]bool {
	b := modeBytes[m]
	if b&^0x07 != 0 {
		return [3]bool{}
	}
	return [3]bool{b&0x01 != 0, b&0x02 != 0, b&0x04 != 0}
}

// Outlet names a physical water outlet on the shower.
type Outlet string

// Outlets.
const (
	OutletShowerhead  Outlet = "showerhead"
	OutletTubFiller   Outlet = "tub_filler"
	OutletHandshower  Outlet = "handshower"
	OutletTubHandheld Outlet = "tub_handheld"
)

// ParseOutlet converts an outlet name to an Outlet.
func ParseOutlet(s string) (Outlet, error) {
	o := Outlet(s)
	if _, err := ModeForOutlet(o); err != nil {
		return "", err
	}
	return o, nil
}

// ModeForOutlet returns the valve mode that opens the given outlet.
// The handshower shares the showerhead mode.
func ModeForOutlet(o Outlet) (Mode, error) {
	switch o {
	case OutletShowerhead, OutletHandshower:
		return ModeShowerhead, nil
	case OutletTubFiller:
		return ModeTubFiller, nil
	case OutletTubHandheld:
		return ModeTubAndHandheld, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOutlet, string(o))
	}
}

// Command is a single valve instruction.
type Command struct {
	Selector           Selector
	TemperatureCelsius float64
	FlowPercent        float64
	Mode               Mode

	// RawMode holds the wire mode byte. Decode always sets it, so an
	// unrecognised byte survives when Mode is ModeUnknown.
	RawMode byte
}

// Off returns a command that closes the selected valve at default settings.
func Off(s Selector) Command {
	return Command{
		Selector:           s,
		TemperatureCelsius: DefaultTemperature,
		FlowPercent:        DefaultFlow,
		Mode:               ModeOff,
	}
}

// Stop returns a command that pauses water while keeping the given
// temperature and flow, so a later outlet command resumes at the same settings.
func Stop(s Selector, temperatureCelsius, flowPercent float64) Command {
	return Command{
		Selector:           s,
		TemperatureCelsius: temperatureCelsius,
		FlowPercent:        flowPercent,
		Mode:               ModeStop,
	}
}
