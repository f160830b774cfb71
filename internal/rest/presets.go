package rest

import (
	"context"
	"fmt"
)

// defaultPresetDuration is the run time assumed when a preset omits one.
const defaultPresetDuration = 1800

// PresetOutlet is one outlet's setting within a preset.
type PresetOutlet struct {
	Index       int     `json:"index"`
	Temperature float64 `json:"temperature"`
	Flow        int     `json:"flow"`
	Enabled     bool    `json:"enabled"`
}

// PresetValve is one valve's setting within a preset.
type PresetValve struct {
	Index int `json:"index"`
	// Payload is the hex valve command the controller stores for the preset.
	Payload string         `json:"payload,omitempty"`
	Outlets []PresetOutlet `json:"outlets"`
}

// Preset is a stored shower preset or experience.
type Preset struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	LogicalName     string        `json:"logical_name,omitempty"`
	IsExperience    bool          `json:"is_experience"`
	Running         bool          `json:"running"`
	DurationSeconds int           `json:"duration_seconds"`
	Valves          []PresetValve `json:"valves"`
}

// PresetList is the device's preset collection.
type PresetList struct {
	DeviceID string   `json:"device_id"`
	SKU      string   `json:"sku"`
	TenantID string   `json:"tenant_id"`
	All      []Preset `json:"presets"`
}

// Presets returns the entries that are plain presets.
func (l *PresetList) Presets() []Preset {
	return l.filter(false)
}

// Experiences returns the entries that are experiences.
func (l *PresetList) Experiences() []Preset {
	return l.filter(true)
}

func (l *PresetList) filter(experience bool) []Preset {
	var out []Preset
	for _, p := range l.All {
		if p.IsExperience == experience {
			out = append(out, p)
		}
	}
	return out
}

// Preset returns the entry with the given id.
func (l *PresetList) Preset(id string) (Preset, bool) {
	for _, p := range l.All {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

type presetListWire struct {
	DeviceID flexString `json:"deviceId"`
	SKU      string     `json:"sku"`
	TenantID flexString `json:"tenantId"`
	Presets  []struct {
		PresetID     flexString `json:"presetId"`
		Title        string     `json:"title"`
		LogicalName  string     `json:"logicalName"`
		IsExperience flexBool   `json:"isExperience"`
		State        flexBool   `json:"state"`
		Time         *flexInt   `json:"time"`
		ValveDetails []struct {
			ValveIndex flexString `json:"valveIndex"`
			HexString  string     `json:"hexString"`
			Outlets    []struct {
				OutletIndex flexString `json:"outletIndex"`
				Temperature flexFloat  `json:"temperature"`
				Flow        flexInt    `json:"flow"`
				Value       flexBool   `json:"value"`
			} `json:"outlets"`
		} `json:"valveDetails"`
	} `json:"presets"`
}

func (w presetListWire) toPresetList(deviceID string) *PresetList {
	l := &PresetList{
		DeviceID: string(w.DeviceID),
		SKU:      w.SKU,
		TenantID: string(w.TenantID),
		All:      make([]Preset, 0, len(w.Presets)),
	}
	if l.DeviceID == "" {
		l.DeviceID = deviceID
	}
	if l.SKU == "" {
		l.SKU = DefaultSKU
	}
	for _, pw := range w.Presets {
		p := Preset{
			ID:              string(pw.PresetID),
			Title:           pw.Title,
			LogicalName:     pw.LogicalName,
			IsExperience:    bool(pw.IsExperience),
			Running:         bool(pw.State),
			DurationSeconds: defaultPresetDuration,
		}
		if pw.Time != nil && *pw.Time > 0 {
			p.DurationSeconds = int(*pw.Time)
		}
		for i, vd := range pw.ValveDetails {
			v := PresetValve{
				Index:   parseIndex(string(vd.ValveIndex), i+1),
				Payload: vd.HexString,
			}
			for j, od := range vd.Outlets {
				v.Outlets = append(v.Outlets, PresetOutlet{
					Index:       parseIndex(string(od.OutletIndex), j+1),
					Temperature: float64(od.Temperature),
					Flow:        int(od.Flow),
					Enabled:     bool(od.Value),
				})
			}
			p.Valves = append(p.Valves, v)
		}
		l.All = append(l.All, p)
	}
	return l
}

// GetPresets returns the device's presets and experiences.
//
// Returns:
//   - *PresetList: Presets in the order the API lists them
//   - error: ErrDeviceNotFound, ErrProtocol, or a transport error
func (g *Gateway) GetPresets(ctx context.Context, deviceID string) (*PresetList, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}
	var w presetListWire
	if err := g.get(ctx, presetsPath(deviceID), &w); err != nil {
		return nil, err
	}
	return w.toPresetList(deviceID), nil
}
