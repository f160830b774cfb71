package realtime

import (
	"errors"
	"testing"

	"github.com/nerrad567/anthem-core/internal/valve"
)

func TestParseTelemetry(t *testing.T) {
	tests := []struct {
		name          string
		payload       string
		defaultDevice string
		wantDevice    string
		wantErr       bool
		check         func(t *testing.T, u update)
	}{
		{
			name:       "connection only",
			payload:    `{"deviceId":"gcs-1","connectionState":"Disconnected"}`,
			wantDevice: "gcs-1",
			check: func(t *testing.T, u update) {
				if u.fragment.Connection == nil || u.fragment.System != nil || u.fragment.Valves != nil {
					t.Errorf("fragment = %+v, want connection only", u.fragment)
				}
			},
		},
		{
			name:       "id fallback",
			payload:    `{"id":"gcs-2","connectionState":"Connected"}`,
			wantDevice: "gcs-2",
		},
		{
			name:          "default device",
			payload:       `{"state":{"valveState":[{"valveIndex":"1","out1":"1","flowSetpoint":"25"}]}}`,
			defaultDevice: "gcs-3",
			wantDevice:    "gcs-3",
			check: func(t *testing.T, u update) {
				v := u.fragment.Valves[1]
				if v.FlowSetpoint != 50 || !v.Outlets[0].Enabled {
					t.Errorf("valve 1 = %+v", v)
				}
			},
		},
		{
			name:       "valve command",
			payload:    `{"deviceId":"gcs-1","command":{"valveControl":{"primaryValve1":"0179c840","secondaryValve2":"2183c802"}}}`,
			wantDevice: "gcs-1",
			check: func(t *testing.T, u update) {
				primary := u.fragment.Valves[1]
				if primary.Mode != valve.ModeStop || !primary.PauseFlag || primary.Active() {
					t.Errorf("primary = %+v, want paused", primary)
				}
				second := u.fragment.Valves[3]
				if second.Mode != valve.ModeTubFiller || !second.Outlets[1].Enabled {
					t.Errorf("secondary 2 = %+v, want tub filler open", second)
				}
				if second.TemperatureSetpoint != 38.7 {
					t.Errorf("secondary 2 temperature = %v, want 38.7", second.TemperatureSetpoint)
				}
			},
		},
		{
			name: "reported state wins over command",
			payload: `{"deviceId":"gcs-1","state":{"valveState":[{"valveIndex":"1","temperatureSetpoint":"40"}]},
				"command":{"valveControl":{"primaryValve1":"0179c801"}}}`,
			wantDevice: "gcs-1",
			check: func(t *testing.T, u update) {
				if got := u.fragment.Valves[1].TemperatureSetpoint; got != 40 {
					t.Errorf("temperature = %v, want reported 40", got)
				}
			},
		},
		{name: "slot mismatch", payload: `{"deviceId":"d","command":{"valveControl":{"primaryValve1":"1179c801"}}}`, wantErr: true},
		{name: "bad hex", payload: `{"deviceId":"d","command":{"valveControl":{"primaryValve1":"zz"}}}`, wantErr: true},
		{name: "no device", payload: `{"connectionState":"Connected"}`, wantErr: true},
		{name: "empty", payload: ``, wantErr: true},
		{name: "not json", payload: `<xml/>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := parseTelemetry([]byte(tt.payload), tt.defaultDevice)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Errorf("parseTelemetry() error = %v, want ErrInvalidMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTelemetry() error = %v", err)
			}
			if u.deviceID != tt.wantDevice {
				t.Errorf("deviceID = %q, want %q", u.deviceID, tt.wantDevice)
			}
			if tt.check != nil {
				tt.check(t, u)
			}
		})
	}
}

func TestSlotSelector(t *testing.T) {
	tests := []struct {
		key    string
		want   valve.Selector
		wantOK bool
	}{
		{"primaryValve1", valve.Primary, true},
		{"secondaryValve1", valve.Secondary(1), true},
		{"secondaryValve7", valve.Secondary(7), true},
		{"secondaryValve8", 0, false},
		{"tertiary", 0, false},
	}
	for _, tt := range tests {
		got, ok := slotSelector(tt.key)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("slotSelector(%q) = %v, %v, want %v, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}
