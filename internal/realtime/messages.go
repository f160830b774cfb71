package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// methodAck is the body of every direct-method reply.
var methodAck = []byte(`{"status":"received"}`)

// telemetryWire is a pushed message: a partial state document, optionally
// carrying the valve command that caused it.
type telemetryWire struct {
	rest.StateDocument

	Command *struct {
		ValveControl map[string]string `json:"valveControl"`
	} `json:"command"`
}

// update is one parsed telemetry message.
type update struct {
	deviceID string
	fragment state.Fragment
}

// parseTelemetry converts a message payload into a fragment.
//
// Parameters:
//   - payload: Raw JSON
//   - defaultDevice: Device to attribute the message to when it names none
//
// Returns:
//   - update: The device and fragment; the fragment may be empty
//   - error: ErrInvalidMessage if the payload is not JSON or names no device
func parseTelemetry(payload []byte, defaultDevice string) (update, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return update{}, fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}

	var w telemetryWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return update{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	deviceID := w.Device()
	if deviceID == "" {
		deviceID = string(w.ID)
	}
	if deviceID == "" {
		deviceID = defaultDevice
	}
	if deviceID == "" {
		return update{}, fmt.Errorf("%w: message names no device", ErrInvalidMessage)
	}

	f := w.Fragment()
	if w.Command != nil && len(w.Command.ValveControl) > 0 {
		commanded, err := valvesFromControl(w.Command.ValveControl)
		if err != nil {
			return update{}, err
		}
		if len(commanded) > 0 && f.Valves == nil {
			f.Valves = make(map[int]state.Valve, len(commanded))
		}
		for idx, v := range commanded {
			// Reported valve state wins over the command that requested it.
			if _, reported := f.Valves[idx]; !reported {
				f.Valves[idx] = v
			}
		}
	}

	return update{deviceID: deviceID, fragment: f}, nil
}

// valvesFromControl decodes a valveControl object keyed primaryValve1 and
// secondaryValve1..7. Idle slots are skipped.
func valvesFromControl(control map[string]string) (map[int]state.Valve, error) {
	out := make(map[int]state.Valve, len(control))
	for key, payload := range control {
		if valve.IsOff(payload) || payload == "" {
			continue
		}
		cmd, err := valve.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, key, err)
		}
		if slot, ok := slotSelector(key); ok && slot != cmd.Selector {
			return nil, fmt.Errorf("%w: %s carries a command for %s", ErrInvalidMessage, key, cmd.Selector)
		}
		v := valveFromCommand(cmd)
		out[v.Index] = v
	}
	return out, nil
}

// slotSelector maps a valveControl key to the selector it addresses.
func slotSelector(key string) (valve.Selector, bool) {
	if key == "primaryValve1" {
		return valve.Primary, true
	}
	n, ok := strings.CutPrefix(key, "secondaryValve")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(n)
	if err != nil || i < 1 || i > valve.SecondaryCount {
		return 0, false
	}
	return valve.Secondary(i), true
}

// valveFromCommand builds the valve group a command implies. The primary
// valve is state index 1 and secondary valve N is index N+1.
func valveFromCommand(cmd valve.Command) state.Valve {
	v := state.Valve{
		Index:               cmd.Selector.Index() + 1,
		TemperatureSetpoint: cmd.TemperatureCelsius,
		FlowSetpoint:        cmd.FlowPercent,
		Mode:                cmd.Mode,
		PauseFlag:           cmd.Mode == valve.ModeStop,
	}
	open := cmd.Mode.OpenOutlets()
	for i := range v.Outlets {
		v.Outlets[i] = state.Outlet{Index: i + 1, Enabled: open[i]}
	}
	return v
}
