package state

import (
	"maps"
	"time"

	"github.com/nerrad567/anthem-core/internal/valve"
)

// Connection reports whether the controller is connected to the cloud.
type Connection string

// Connection states.
const (
	ConnectionUnknown      Connection = ""
	ConnectionConnected    Connection = "connected"
	ConnectionDisconnected Connection = "disconnected"
)

// SystemMode is the controller's overall operating state.
type SystemMode string

// System modes.
const (
	SystemUnknown          SystemMode = ""
	SystemNormalOperation  SystemMode = "normal_operation"
	SystemShowerInProgress SystemMode = "shower_in_progress"
)

// Source identifies which channel produced an update.
type Source string

// Update sources.
const (
	SourceNone     Source = ""
	SourceRest     Source = "rest"
	SourceRealtime Source = "realtime"
)

// OutletCount is the number of outlets each valve drives.
const OutletCount = 3

// System is the system field group.
type System struct {
	Mode SystemMode `json:"mode"`

	// ActivePresetID is empty when no preset or experience is running.
	ActivePresetID string `json:"active_preset_id,omitempty"`

	Ready       bool    `json:"ready"`
	TotalFlow   float64 `json:"total_flow"`
	TotalVolume float64 `json:"total_volume"`
}

// Warmup is the warmup field group.
type Warmup struct {
	Enabled    bool `json:"enabled"`
	InProgress bool `json:"in_progress"`
}

// Outlet is the runtime state of one outlet on a valve.
type Outlet struct {
	Index       int     `json:"index"`
	Enabled     bool    `json:"enabled"`
	Temperature float64 `json:"temperature"`
	Flow        float64 `json:"flow"`
}

// Valve is the runtime state of one valve. All valves share the valves
// field group.
type Valve struct {
	Index               int                 `json:"index"`
	AtTemperature       bool                `json:"at_temperature"`
	AtFlow              bool                `json:"at_flow"`
	TemperatureSetpoint float64             `json:"temperature_setpoint"`
	FlowSetpoint        float64             `json:"flow_setpoint"`
	Mode                valve.Mode          `json:"mode,omitempty"`
	Outlets             [OutletCount]Outlet `json:"outlets"`
	ErrorFlag           bool                `json:"error_flag"`
	ErrorCode           int                 `json:"error_code"`
	PauseFlag           bool                `json:"pause_flag"`
}

// Active reports whether any outlet on the valve is open.
func (v Valve) Active() bool {
	for _, o := range v.Outlets {
		if o.Enabled {
			return true
		}
	}
	return false
}

// Updated records when each field group was last written.
type Updated struct {
	Connection time.Time `json:"connection"`
	System     time.Time `json:"system"`
	Warmup     time.Time `json:"warmup"`
	Valves     time.Time `json:"valves"`
}

// DeviceState is the merged view of one device.
type DeviceState struct {
	DeviceID   string        `json:"device_id"`
	Connection Connection    `json:"connection"`
	System     System        `json:"system"`
	Warmup     Warmup        `json:"warmup"`
	Valves     map[int]Valve `json:"valves"`

	LastUpdateSource Source    `json:"last_update_source"`
	LastUpdateTime   time.Time `json:"last_update_time"`
	Updated          Updated   `json:"updated"`
}

// Clone returns a deep copy of s.
func (s DeviceState) Clone() DeviceState {
	c := s
	c.Valves = maps.Clone(s.Valves)
	return c
}

// Valve returns the valve with the given index.
func (s DeviceState) Valve(index int) (Valve, bool) {
	v, ok := s.Valves[index]
	return v, ok
}

// Primary returns the primary valve (index 1).
func (s DeviceState) Primary() (Valve, bool) {
	return s.Valve(1)
}

// Showering reports whether water is running on any valve.
func (s DeviceState) Showering() bool {
	if s.System.Mode == SystemShowerInProgress {
		return true
	}
	for _, v := range s.Valves {
		if v.Active() {
			return true
		}
	}
	return false
}

// Fragment is a partial update. Nil groups are left untouched.
type Fragment struct {
	Connection *Connection
	System     *System
	Warmup     *Warmup
	Valves     map[int]Valve
}

// Empty reports whether the fragment carries no field groups.
func (f Fragment) Empty() bool {
	return f.Connection == nil && f.System == nil && f.Warmup == nil && len(f.Valves) == 0
}

// Snapshot converts a complete state into a fragment touching every group
// the state defines.
func Snapshot(s DeviceState) Fragment {
	conn := s.Connection
	sys := s.System
	warm := s.Warmup
	return Fragment{
		Connection: &conn,
		System:     &sys,
		Warmup:     &warm,
		Valves:     maps.Clone(s.Valves),
	}
}
