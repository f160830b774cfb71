package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/anthem-core/internal/state"
)

// noActivePreset is the presetOrExperienceId reported when nothing runs.
const noActivePreset = "0"

// OutletLimits are the configured limits of one outlet.
type OutletLimits struct {
	OutletID           int     `json:"outlet_id"`
	OutletType         int     `json:"outlet_type"`
	MinTemperature     float64 `json:"min_temperature"`
	MaxTemperature     float64 `json:"max_temperature"`
	DefaultTemperature float64 `json:"default_temperature"`
	MinFlow            int     `json:"min_flow"`
	MaxFlow            int     `json:"max_flow"`
	DefaultFlow        int     `json:"default_flow"`
	MaxRuntimeSeconds  int     `json:"max_runtime_seconds"`
}

// ValveSettings describes one installed valve.
type ValveSettings struct {
	Valve           string         `json:"valve"`
	OutletCount     int            `json:"outlet_count"`
	FirmwareType    int            `json:"firmware_type"`
	FirmwareVersion int            `json:"firmware_version"`
	Outlets         []OutletLimits `json:"outlets"`
}

// DeviceSettings is the installation configuration of a controller.
type DeviceSettings struct {
	Valves      []ValveSettings `json:"valves"`
	FlowControl string          `json:"flow_control"`
}

// DeviceStatus is the response to a device state poll.
type DeviceStatus struct {
	DeviceID      string            `json:"device_id"`
	SKU           string            `json:"sku"`
	TenantID      string            `json:"tenant_id"`
	LastConnected int64             `json:"last_connected,omitempty"`
	State         state.DeviceState `json:"state"`
	Settings      DeviceSettings    `json:"settings"`
}

// StateDocument is the JSON document the cloud uses for device state. Both
// the REST state endpoint and realtime telemetry use it; realtime messages
// carry only the parts that changed, so every section is optional.
type StateDocument struct {
	ID              flexString   `json:"id"`
	DeviceID        flexString   `json:"deviceId"`
	SKU             string       `json:"sku"`
	TenantID        flexString   `json:"tenantId"`
	ConnectionState *string      `json:"connectionState"`
	LastConnected   flexInt      `json:"lastConnected"`
	State           *stateWire   `json:"state"`
	Setting         *settingWire `json:"setting"`
}

type stateWire struct {
	WarmUpState          *warmUpWire `json:"warmUpState"`
	CurrentSystemState   *string     `json:"currentSystemState"`
	PresetOrExperienceID *flexString `json:"presetOrExperienceId"`
	TotalVolume          flexFloat   `json:"totalVolume"`
	TotalFlow            flexFloat   `json:"totalFlow"`
	Ready                flexBool    `json:"ready"`
	ValveState           []valveWire `json:"valveState"`
	IoTActive            flexString  `json:"ioTActive"`
}

type warmUpWire struct {
	WarmUp *string `json:"warmUp"`
	State  string  `json:"state"`
}

type valveWire struct {
	ValveIndex          flexString   `json:"valveIndex"`
	AtFlow              flexBool     `json:"atFlow"`
	AtTemp              flexBool     `json:"atTemp"`
	FlowSetpoint        flexFloat    `json:"flowSetpoint"`
	TemperatureSetpoint flexFloat    `json:"temperatureSetpoint"`
	ErrorFlag           flexBool     `json:"errorFlag"`
	ErrorCode           flexInt      `json:"errorCode"`
	PauseFlag           flexBool     `json:"pauseFlag"`
	Out1                flexBool     `json:"out1"`
	Out2                flexBool     `json:"out2"`
	Out3                flexBool     `json:"out3"`
	Outlets             []outletWire `json:"outlets"`
}

type outletWire struct {
	OutletIndex flexString `json:"outletIndex"`
	OutletTemp  flexFloat  `json:"outletTemp"`
	OutletFlow  flexFloat  `json:"outletFlow"`
}

type settingWire struct {
	ValveSettings []struct {
		Valve                string  `json:"valve"`
		NoOfOutlets          flexInt `json:"noOfOutlets"`
		ValveFirmwareType    flexInt `json:"valveFirmwareType"`
		ValveFirmwareVersion flexInt `json:"valveFirmwareVersion"`
		OutletConfigurations []struct {
			OutLetType               flexInt   `json:"outLetType"`
			OutLetID                 flexInt   `json:"outLetId"`
			MaximumOutletTemperature flexFloat `json:"maximumOutletTemperature"`
			MinimumOutletTemperature flexFloat `json:"minimumOutletTemperature"`
			DefaultOutletTemperature flexFloat `json:"defaultOutletTemperature"`
			MaximumFlowrate          flexInt   `json:"maximumFlowrate"`
			MinimumFlowrate          flexInt   `json:"minimumFlowrate"`
			DefaultFlowrate          flexInt   `json:"defaultFlowrate"`
			MaximumRuntime           flexInt   `json:"maximumRuntime"`
		} `json:"outletConfigurations"`
	} `json:"valveSettings"`
	FlowControl string `json:"flowControl"`
}

// Device returns the device id the document names, or "" if it names none.
func (d *StateDocument) Device() string {
	return string(d.DeviceID)
}

// Fragment converts the sections present in the document into a state
// fragment. Absent sections leave the corresponding groups nil.
func (d *StateDocument) Fragment() state.Fragment {
	var f state.Fragment

	if d.ConnectionState != nil {
		conn := parseConnection(*d.ConnectionState)
		f.Connection = &conn
	}
	if d.State == nil {
		return f
	}
	s := d.State

	if s.CurrentSystemState != nil || s.PresetOrExperienceID != nil {
		sys := state.System{
			Ready:       bool(s.Ready),
			TotalFlow:   float64(s.TotalFlow),
			TotalVolume: float64(s.TotalVolume),
		}
		if s.CurrentSystemState != nil {
			sys.Mode = parseSystemMode(*s.CurrentSystemState)
		}
		if s.PresetOrExperienceID != nil {
			sys.ActivePresetID = activePreset(string(*s.PresetOrExperienceID))
		}
		f.System = &sys
	}

	if s.WarmUpState != nil {
		f.Warmup = &state.Warmup{
			Enabled:    s.WarmUpState.WarmUp != nil && *s.WarmUpState.WarmUp != "" && *s.WarmUpState.WarmUp != "warmUpDisabled",
			InProgress: s.WarmUpState.State == "warmUpInProgress",
		}
	}

	if len(s.ValveState) > 0 {
		f.Valves = make(map[int]state.Valve, len(s.ValveState))
		for i, vw := range s.ValveState {
			v := vw.toValve(i + 1)
			f.Valves[v.Index] = v
		}
	}
	return f
}

// toValve converts the wire valve. fallbackIndex is used when valveIndex
// is missing or not numeric ("Valve1" style names are accepted).
func (vw valveWire) toValve(fallbackIndex int) state.Valve {
	v := state.Valve{
		Index:               parseIndex(string(vw.ValveIndex), fallbackIndex),
		AtTemperature:       bool(vw.AtTemp),
		AtFlow:              bool(vw.AtFlow),
		TemperatureSetpoint: float64(vw.TemperatureSetpoint),
		// The API reports flow on a 0-50 scale.
		FlowSetpoint: float64(vw.FlowSetpoint) * 2,
		ErrorFlag:    bool(vw.ErrorFlag),
		ErrorCode:    int(vw.ErrorCode),
		PauseFlag:    bool(vw.PauseFlag),
	}

	enabled := [state.OutletCount]bool{bool(vw.Out1), bool(vw.Out2), bool(vw.Out3)}
	for i := range v.Outlets {
		v.Outlets[i] = state.Outlet{Index: i + 1, Enabled: enabled[i]}
	}
	for _, ow := range vw.Outlets {
		idx := parseIndex(string(ow.OutletIndex), 0)
		if idx < 1 || idx > state.OutletCount {
			continue
		}
		v.Outlets[idx-1].Temperature = float64(ow.OutletTemp)
		v.Outlets[idx-1].Flow = float64(ow.OutletFlow)
	}
	return v
}

func (sw *settingWire) toSettings() DeviceSettings {
	if sw == nil {
		return DeviceSettings{}
	}
	out := DeviceSettings{FlowControl: sw.FlowControl}
	for _, vs := range sw.ValveSettings {
		v := ValveSettings{
			Valve:           vs.Valve,
			OutletCount:     int(vs.NoOfOutlets),
			FirmwareType:    int(vs.ValveFirmwareType),
			FirmwareVersion: int(vs.ValveFirmwareVersion),
		}
		for _, oc := range vs.OutletConfigurations {
			v.Outlets = append(v.Outlets, OutletLimits{
				OutletID:           int(oc.OutLetID),
				OutletType:         int(oc.OutLetType),
				MinTemperature:     float64(oc.MinimumOutletTemperature),
				MaxTemperature:     float64(oc.MaximumOutletTemperature),
				DefaultTemperature: float64(oc.DefaultOutletTemperature),
				MinFlow:            int(oc.MinimumFlowrate),
				MaxFlow:            int(oc.MaximumFlowrate),
				DefaultFlow:        int(oc.DefaultFlowrate),
				MaxRuntimeSeconds:  int(oc.MaximumRuntime),
			})
		}
		out.Valves = append(out.Valves, v)
	}
	return out
}

func parseConnection(s string) state.Connection {
	switch strings.ToLower(s) {
	case "connected":
		return state.ConnectionConnected
	case "disconnected":
		return state.ConnectionDisconnected
	default:
		return state.ConnectionUnknown
	}
}

func parseSystemMode(s string) state.SystemMode {
	switch s {
	case "showerInProgress":
		return state.SystemShowerInProgress
	default:
		return state.SystemNormalOperation
	}
}

func activePreset(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || id == noActivePreset {
		return ""
	}
	return id
}

// parseIndex extracts the trailing integer of "2", "Valve2" or "valve_2".
func parseIndex(s string, fallback int) int {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return fallback
	}
	n, err := strconv.Atoi(s[start:end])
	if err != nil {
		return fallback
	}
	return n
}

// ParseStateDocument decodes a state document from raw JSON.
func ParseStateDocument(data []byte) (*StateDocument, error) {
	var doc StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: state document: %w", ErrProtocol, err)
	}
	return &doc, nil
}

// GetDeviceState polls the device's full state.
//
// The returned State is a complete snapshot; apply it to a state.Store with
// the time the request was issued so that newer realtime updates win.
//
// Returns:
//   - *DeviceStatus: Parsed state and installation settings
//   - error: ErrDeviceNotFound, ErrProtocol, or a transport error
func (g *Gateway) GetDeviceState(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}
	var doc StateDocument
	if err := g.get(ctx, deviceStatePath(deviceID), &doc); err != nil {
		return nil, err
	}
	if doc.State == nil {
		return nil, fmt.Errorf("%w: state document for %s has no state section", ErrProtocol, deviceID)
	}

	frag := doc.Fragment()
	st := state.DeviceState{DeviceID: deviceID, Valves: frag.Valves}
	if frag.Connection != nil {
		st.Connection = *frag.Connection
	}
	if frag.System != nil {
		st.System = *frag.System
	} else {
		st.System = state.System{Mode: state.SystemNormalOperation}
	}
	if frag.Warmup != nil {
		st.Warmup = *frag.Warmup
	}
	if st.Valves == nil {
		st.Valves = map[int]state.Valve{}
	}

	sku := doc.SKU
	if sku == "" {
		sku = DefaultSKU
	}
	return &DeviceStatus{
		DeviceID:      deviceID,
		SKU:           sku,
		TenantID:      string(doc.TenantID),
		LastConnected: int64(doc.LastConnected),
		State:         st,
		Settings:      doc.Setting.toSettings(),
	}, nil
}
