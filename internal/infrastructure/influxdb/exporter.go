package influxdb

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/anthem-core/internal/state"
)

// Measurement names written by the Exporter.
const (
	MeasurementShower = "shower_state"
	MeasurementValve  = "valve_state"
)

// PointWriter accepts points for asynchronous writing. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Exporter turns merged device state into InfluxDB points: one
// shower_state point per change plus one valve_state point per valve.
type Exporter struct {
	w   PointWriter
	now func() time.Time
}

// NewExporter creates an exporter writing to w.
func NewExporter(w PointWriter) *Exporter {
	return &Exporter{w: w, now: time.Now}
}

// Listener returns a state.Listener suitable for Store.OnChange. It never
// blocks: points are handed to the batching write API.
func (e *Exporter) Listener() state.Listener {
	return e.Export
}

// Export writes the points for one device snapshot.
func (e *Exporter) Export(deviceID string, s state.DeviceState) {
	for _, p := range e.Points(deviceID, s) {
		e.w.WritePoint(p)
	}
}

// Points builds the points for one device snapshot, timestamped with the
// snapshot's last update time.
func (e *Exporter) Points(deviceID string, s state.DeviceState) []*write.Point {
	ts := s.LastUpdateTime
	if ts.IsZero() {
		ts = e.now()
	}

	fields := map[string]any{
		"connected":          s.Connection == state.ConnectionConnected,
		"showering":          s.Showering(),
		"ready":              s.System.Ready,
		"total_flow":         s.System.TotalFlow,
		"total_volume":       s.System.TotalVolume,
		"warmup_enabled":     s.Warmup.Enabled,
		"warmup_in_progress": s.Warmup.InProgress,
	}
	if s.System.Mode != state.SystemUnknown {
		fields["system_mode"] = string(s.System.Mode)
	}
	if s.System.ActivePresetID != "" {
		fields["active_preset"] = s.System.ActivePresetID
	}

	tags := map[string]string{"device_id": deviceID}
	if s.LastUpdateSource != state.SourceNone {
		tags["source"] = string(s.LastUpdateSource)
	}

	points := make([]*write.Point, 0, 1+len(s.Valves))
	points = append(points, write.NewPoint(MeasurementShower, tags, fields, ts))

	for _, idx := range slices.Sorted(maps.Keys(s.Valves)) {
		points = append(points, valvePoint(deviceID, idx, s.Valves[idx], ts))
	}
	return points
}

func valvePoint(deviceID string, index int, v state.Valve, ts time.Time) *write.Point {
	open := 0
	for _, o := range v.Outlets {
		if o.Enabled {
			open++
		}
	}

	fields := map[string]any{
		"temperature_setpoint": v.TemperatureSetpoint,
		"flow_setpoint":        v.FlowSetpoint,
		"at_temperature":       v.AtTemperature,
		"at_flow":              v.AtFlow,
		"open_outlets":         open,
		"error":                v.ErrorFlag,
		"error_code":           v.ErrorCode,
		"paused":               v.PauseFlag,
	}
	if v.Mode != "" {
		fields["mode"] = string(v.Mode)
	}

	return write.NewPoint(MeasurementValve, map[string]string{
		"device_id": deviceID,
		"valve":     strconv.Itoa(index),
	}, fields, ts)
}
