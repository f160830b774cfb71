package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

const customerJSON = `{
  "id": "cust-1",
  "tenantId": "cust-1",
  "temperatureUnit": "Fahrenheit",
  "waterUnits": "Gallons",
  "isActive": true,
  "customerHome": [
    {"homeId": "h1", "homeName": "Home", "devices": [
      {"deviceId": "gcs-1", "logicalName": "Master Shower", "sku": "GCS", "serialNumber": "SN1", "isActive": true, "isProvisioned": true},
      {"deviceId": "gcs-2", "logicalName": "Guest Shower", "isProvisioned": "false"}
    ]},
    {"homeId": "h2", "homeName": "Cabin", "devices": [
      {"deviceId": "gcs-3", "logicalName": "Cabin Shower", "sku": "GCS2"}
    ]}
  ]
}`

const deviceStateJSON = `{
  "id": "gcs-1",
  "deviceId": "gcs-1",
  "sku": "GCS",
  "tenantId": "cust-1",
  "connectionState": "Connected",
  "lastConnected": 1700000000,
  "state": {
    "warmUpState": {"warmUp": "warmUpDisabled", "state": "warmUpNotInProgress"},
    "currentSystemState": "showerInProgress",
    "presetOrExperienceId": "0",
    "totalVolume": "12.5",
    "totalFlow": 7,
    "ready": "true",
    "valveState": [
      {"valveIndex": "Valve1", "atFlow": "1", "atTemp": "0", "flowSetpoint": "50", "temperatureSetpoint": "38.0",
       "errorFlag": false, "errorCode": 0, "pauseFlag": false, "out1": "1", "out2": "0", "out3": "false",
       "outlets": [{"outletIndex": "1", "outletTemp": "37.5", "outletFlow": "45"}]},
      {"valveIndex": "2", "flowSetpoint": 25, "temperatureSetpoint": 40, "out1": false, "out2": true, "out3": false}
    ]
  },
  "setting": {
    "valveSettings": [{"valve": "Valve1", "noOfOutlets": "3", "valveFirmwareType": 1, "valveFirmwareVersion": 12,
      "outletConfigurations": [{"outLetType": 1, "outLetId": 1, "maximumOutletTemperature": 48.8,
        "minimumOutletTemperature": 15, "defaultOutletTemperature": 37.7, "maximumFlowrate": 100,
        "minimumFlowrate": 0, "defaultFlowrate": 100, "maximumRuntime": 1800}]}],
    "flowControl": "enabled"
  }
}`

const presetsJSON = `{
  "deviceId": "gcs-1",
  "sku": "GCS",
  "tenantId": "cust-1",
  "presets": [
    {"presetId": "1", "title": "Morning", "isExperience": "false", "state": "off", "time": "900",
     "valveDetails": [{"valveIndex": "1", "hexString": "0179c801",
       "outlets": [{"outletIndex": "1", "temperature": "38.0", "flow": "100", "value": "1"}]}]},
    {"presetId": 5, "title": "Rain Forest", "isExperience": "true", "state": "on"}
  ]
}`

// ============================================================================
// Discovery
// ============================================================================

func TestGetCustomer(t *testing.T) {
	var gotPath string
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, customerJSON)
	})

	c, err := g.GetCustomer(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("GetCustomer() error = %v", err)
	}
	if gotPath != "/devices/api/v1/device-management/customer-device/cust-1" {
		t.Errorf("path = %q", gotPath)
	}
	if len(c.Homes) != 2 {
		t.Fatalf("len(Homes) = %d, want 2", len(c.Homes))
	}

	devices := c.Devices()
	if len(devices) != 3 {
		t.Fatalf("len(Devices()) = %d, want 3", len(devices))
	}
	if devices[0].LogicalName != "Master Shower" || !devices[0].IsProvisioned {
		t.Errorf("devices[0] = %+v", devices[0])
	}
	if devices[1].SKU != DefaultSKU {
		t.Errorf("devices[1].SKU = %q, want default %q", devices[1].SKU, DefaultSKU)
	}
	if devices[1].IsProvisioned {
		t.Error("devices[1].IsProvisioned = true, want false")
	}
	if d, ok := c.Device("gcs-3"); !ok || d.SKU != "GCS2" {
		t.Errorf("Device(gcs-3) = %+v, %v", d, ok)
	}
	if _, ok := c.Device("nope"); ok {
		t.Error("Device(nope) found, want missing")
	}
}

// ============================================================================
// Device state
// ============================================================================

func TestGetDeviceState(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/api/v1/device-management/gcs-state/gcsadvancestate/gcs-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, deviceStateJSON)
	})

	st, err := g.GetDeviceState(context.Background(), "gcs-1")
	if err != nil {
		t.Fatalf("GetDeviceState() error = %v", err)
	}

	if st.TenantID != "cust-1" || st.SKU != "GCS" || st.LastConnected != 1700000000 {
		t.Errorf("status header = %+v", st)
	}
	s := st.State
	if s.Connection != state.ConnectionConnected {
		t.Errorf("Connection = %q, want connected", s.Connection)
	}
	if s.System.Mode != state.SystemShowerInProgress {
		t.Errorf("System.Mode = %q, want shower_in_progress", s.System.Mode)
	}
	if s.System.ActivePresetID != "" {
		t.Errorf("ActivePresetID = %q, want empty for \"0\"", s.System.ActivePresetID)
	}
	if s.System.TotalVolume != 12.5 || !s.System.Ready {
		t.Errorf("System = %+v", s.System)
	}
	if s.Warmup.Enabled || s.Warmup.InProgress {
		t.Errorf("Warmup = %+v, want disabled and idle", s.Warmup)
	}

	v1, ok := s.Valve(1)
	if !ok {
		t.Fatal("valve 1 missing")
	}
	if v1.FlowSetpoint != 100 {
		t.Errorf("valve 1 FlowSetpoint = %v, want 100", v1.FlowSetpoint)
	}
	if v1.TemperatureSetpoint != 38.0 || !v1.AtFlow || v1.AtTemperature {
		t.Errorf("valve 1 = %+v", v1)
	}
	if !v1.Outlets[0].Enabled || v1.Outlets[1].Enabled || v1.Outlets[2].Enabled {
		t.Errorf("valve 1 outlets = %+v", v1.Outlets)
	}
	if v1.Outlets[0].Temperature != 37.5 || v1.Outlets[0].Flow != 45 {
		t.Errorf("valve 1 outlet 1 = %+v", v1.Outlets[0])
	}

	v2, ok := s.Valve(2)
	if !ok || v2.FlowSetpoint != 50 || !v2.Outlets[1].Enabled {
		t.Errorf("valve 2 = %+v, %v", v2, ok)
	}

	if len(st.Settings.Valves) != 1 || st.Settings.Valves[0].OutletCount != 3 {
		t.Fatalf("Settings = %+v", st.Settings)
	}
	limits := st.Settings.Valves[0].Outlets[0]
	if limits.MaxTemperature != 48.8 || limits.MaxRuntimeSeconds != 1800 {
		t.Errorf("outlet limits = %+v", limits)
	}
}

func TestGetDeviceState_MissingStateSection(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"deviceId":"gcs-1","connectionState":"Disconnected"}`)
	})
	if _, err := g.GetDeviceState(context.Background(), "gcs-1"); err == nil {
		t.Error("GetDeviceState() expected error for document without state")
	}
}

func TestStateDocument_PartialFragment(t *testing.T) {
	doc, err := ParseStateDocument([]byte(`{"deviceId":"gcs-1","state":{"warmUpState":{"warmUp":"warmUpEnabled","state":"warmUpInProgress"}}}`))
	if err != nil {
		t.Fatalf("ParseStateDocument() error = %v", err)
	}
	if doc.Device() != "gcs-1" {
		t.Errorf("Device() = %q, want gcs-1", doc.Device())
	}
	f := doc.Fragment()
	if f.Connection != nil || f.System != nil || f.Valves != nil {
		t.Errorf("Fragment() touched absent groups: %+v", f)
	}
	if f.Warmup == nil || !f.Warmup.Enabled || !f.Warmup.InProgress {
		t.Errorf("Fragment().Warmup = %+v, want enabled and in progress", f.Warmup)
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1", 1},
		{"Valve2", 2},
		{"valve_3", 3},
		{"", 9},
		{"primary", 9},
	}
	for _, tt := range tests {
		if got := parseIndex(tt.in, 9); got != tt.want {
			t.Errorf("parseIndex(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// Presets
// ============================================================================

func TestGetPresets(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, presetsJSON)
	})

	l, err := g.GetPresets(context.Background(), "gcs-1")
	if err != nil {
		t.Fatalf("GetPresets() error = %v", err)
	}
	if len(l.All) != 2 {
		t.Fatalf("len(All) = %d, want 2", len(l.All))
	}
	if got := l.Presets(); len(got) != 1 || got[0].Title != "Morning" {
		t.Errorf("Presets() = %+v", got)
	}
	if got := l.Experiences(); len(got) != 1 || got[0].ID != "5" {
		t.Errorf("Experiences() = %+v", got)
	}

	morning, ok := l.Preset("1")
	if !ok {
		t.Fatal("Preset(1) missing")
	}
	if morning.DurationSeconds != 900 {
		t.Errorf("DurationSeconds = %d, want 900", morning.DurationSeconds)
	}
	if len(morning.Valves) != 1 || morning.Valves[0].Payload != "0179c801" {
		t.Fatalf("Valves = %+v", morning.Valves)
	}
	if o := morning.Valves[0].Outlets[0]; !o.Enabled || o.Temperature != 38.0 || o.Flow != 100 {
		t.Errorf("outlet = %+v", o)
	}

	rain, _ := l.Preset("5")
	if rain.DurationSeconds != defaultPresetDuration || !rain.Running {
		t.Errorf("rain = %+v", rain)
	}
}

// ============================================================================
// Commands
// ============================================================================

func TestStartPreset_Body(t *testing.T) {
	var body map[string]any
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pathPresetControl {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		decodeBody(t, r, &body)
		fmt.Fprint(w, `{"correlationId":"c-1","timestamp":"1700000001"}`)
	})

	res, err := g.StartPreset(context.Background(), Target{TenantID: "t1", DeviceID: "d1"}, "3")
	if err != nil {
		t.Fatalf("StartPreset() error = %v", err)
	}
	if res.Timestamp != 1700000001 {
		t.Errorf("Timestamp = %d", res.Timestamp)
	}

	want := map[string]any{"tenantId": "t1", "deviceId": "d1", "presetId": "3", "command": "start", "sku": "GCS"}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("body[%q] = %v, want %v", k, body[k], v)
		}
	}
}

func TestWarmup_DefaultPreset(t *testing.T) {
	var body map[string]any
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathWarmup {
			t.Errorf("path = %q, want %q", r.URL.Path, pathWarmup)
		}
		decodeBody(t, r, &body)
		fmt.Fprint(w, `{"correlationId":"c-2","timestamp":1}`)
	})

	if _, err := g.StopWarmup(context.Background(), Target{TenantID: "t1", DeviceID: "d1", SKU: "GCS2"}, ""); err != nil {
		t.Fatalf("StopWarmup() error = %v", err)
	}
	if body["presetId"] != DefaultWarmupPresetID || body["command"] != "stop" || body["sku"] != "GCS2" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteValves_Body(t *testing.T) {
	var body struct {
		TenantID string            `json:"tenantId"`
		DeviceID string            `json:"deviceId"`
		SKU      string            `json:"sku"`
		Model    map[string]string `json:"gcsValveControlModel"`
	}
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathValveControl {
			t.Errorf("path = %q, want %q", r.URL.Path, pathValveControl)
		}
		decodeBody(t, r, &body)
		fmt.Fprint(w, `{"correlationId":"c-3","timestamp":2}`)
	})

	vc, err := NewValveControl(
		valve.Command{Selector: valve.Primary, TemperatureCelsius: 37.7, FlowPercent: 100, Mode: valve.ModeShowerhead},
		valve.Command{Selector: valve.Secondary(2), TemperatureCelsius: 37.7, FlowPercent: 100, Mode: valve.ModeShowerhead},
	)
	if err != nil {
		t.Fatalf("NewValveControl() error = %v", err)
	}
	if _, err := g.WriteValves(context.Background(), Target{TenantID: "t1", DeviceID: "d1"}, vc); err != nil {
		t.Fatalf("WriteValves() error = %v", err)
	}

	if len(body.Model) != 8 {
		t.Errorf("len(gcsValveControlModel) = %d, want 8", len(body.Model))
	}
	if body.Model["primaryValve1"] != "0179c801" {
		t.Errorf("primaryValve1 = %q, want 0179c801", body.Model["primaryValve1"])
	}
	if body.Model["secondaryValve2"] != "2179c801" {
		t.Errorf("secondaryValve2 = %q, want 2179c801", body.Model["secondaryValve2"])
	}
	for _, k := range []string{"secondaryValve1", "secondaryValve3", "secondaryValve7"} {
		if body.Model[k] != valve.OffPayload {
			t.Errorf("%s = %q, want %q", k, body.Model[k], valve.OffPayload)
		}
	}
}

func TestNewValveControl_Errors(t *testing.T) {
	if _, err := NewValveControl(
		valve.Off(valve.Primary),
		valve.Off(valve.Primary),
	); err == nil {
		t.Error("NewValveControl() expected error for duplicate selector")
	}
	if _, err := NewValveControl(valve.Command{Selector: valve.Primary, TemperatureCelsius: 60, FlowPercent: 50, Mode: valve.ModeShowerhead}); err == nil {
		t.Error("NewValveControl() expected error for out-of-range temperature")
	}
}

// ============================================================================
// Mobile registration
// ============================================================================

func TestRegisterMobileDevice(t *testing.T) {
	var body mobileSettingsBody
	g, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &body)
		fmt.Fprint(w, `{"ioTHubSettings":{"ioTHub":"hub.azure-devices.net","deviceId":"mob-1",
			"connectionString":"HostName=hub","username":"hub.azure-devices.net/mob-1/?api-version=2021-04-12",
			"password":"SharedAccessSignature sr=hub&sig=abc&se=1700003600"}}`)
	})

	s, err := g.RegisterMobileDevice(context.Background(), "cust-1", "")
	if err != nil {
		t.Fatalf("RegisterMobileDevice() error = %v", err)
	}
	if s.Host != "hub.azure-devices.net" || s.DeviceID != "mob-1" {
		t.Errorf("settings = %+v", s)
	}
	if len(body.MobileDeviceID) != mobileDeviceIDLength {
		t.Errorf("mobileDeviceId = %q, want %d chars", body.MobileDeviceID, mobileDeviceIDLength)
	}
	if body.DeviceHandle != "ha_"+body.MobileDeviceID {
		t.Errorf("deviceHandle = %q", body.DeviceHandle)
	}
	if body.DevicePlatform != mobileDevicePlatform || len(body.Tags) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestRegisterMobileDevice_MissingSettings(t *testing.T) {
	g, _ := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ioTHubSettings":{"ioTHub":"hub"}}`)
	})
	if _, err := g.RegisterMobileDevice(context.Background(), "cust-1", "abc"); err == nil {
		t.Error("RegisterMobileDevice() expected error for incomplete settings")
	}
}

// decodeBody runs inside server handlers, so it reports with Errorf.
func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("reading body: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("decoding body %s: %v", data, err)
	}
}
