package anthem

import (
	"github.com/nerrad567/anthem-core/internal/realtime"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/session"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// Types shared with the internal packages.
type (
	Credentials   = session.Credentials
	Customer      = rest.Customer
	Home          = rest.Home
	Device        = rest.Device
	DeviceStatus  = rest.DeviceStatus
	PresetList    = rest.PresetList
	Preset        = rest.Preset
	CommandResult = rest.CommandResult
	ValveControl  = rest.ValveControl
	DeviceState   = state.DeviceState
	ValveState    = state.Valve
	Outlet        = valve.Outlet
	ValveCommand  = valve.Command
	RealtimeState = realtime.State
	Store         = state.Store
)

// Outlets.
const (
	OutletShowerhead  = valve.OutletShowerhead
	OutletTubFiller   = valve.OutletTubFiller
	OutletHandshower  = valve.OutletHandshower
	OutletTubHandheld = valve.OutletTubHandheld
)

// Realtime channel states.
const (
	RealtimeDisconnected = realtime.StateDisconnected
	RealtimeConnecting   = realtime.StateConnecting
	RealtimeSubscribed   = realtime.StateSubscribed
	RealtimeClosed       = realtime.StateClosed
)

// Command defaults.
const (
	DefaultTemperature = valve.DefaultTemperature
	DefaultFlow        = valve.DefaultFlow
)
