package state

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

func connected() *Connection {
	c := ConnectionConnected
	return &c
}

func disconnected() *Connection {
	c := ConnectionDisconnected
	return &c
}

func restSnapshot(mode SystemMode, temp float64) DeviceState {
	return DeviceState{
		Connection: ConnectionConnected,
		System:     System{Mode: mode, Ready: true},
		Warmup:     Warmup{Enabled: true},
		Valves: map[int]Valve{
			1: {Index: 1, TemperatureSetpoint: temp, FlowSetpoint: 100},
		},
	}
}

// =============================================================================
// Get Tests
// =============================================================================

func TestGet_UnknownDevice(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Get() error = %v, want ErrUnknownDevice", err)
	}
}

func TestObserve_CreatesEmptyState(t *testing.T) {
	s := NewStore()
	s.Observe("dev-1")

	st, err := s.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", st.DeviceID)
	}
	if st.LastUpdateSource != SourceNone {
		t.Errorf("LastUpdateSource = %q, want none", st.LastUpdateSource)
	}
	if _, ok := s.Age("dev-1", t0); ok {
		t.Error("Age() ok = true for never-updated device, want false")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := NewStore()
	s.ApplyRestState("dev-1", restSnapshot(SystemNormalOperation, 38), t0)

	st, _ := s.Get("dev-1")
	st.Valves[1] = Valve{Index: 1, TemperatureSetpoint: 99}

	again, _ := s.Get("dev-1")
	if again.Valves[1].TemperatureSetpoint != 38 {
		t.Errorf("TemperatureSetpoint = %v after mutating copy, want 38", again.Valves[1].TemperatureSetpoint)
	}
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestApply_OlderRestDoesNotOverwriteNewerRealtime(t *testing.T) {
	s := NewStore()

	// Realtime push at t0+2s, REST response for a request issued at t0+1s.
	s.ApplyRealtimeFragment("dev-1", Fragment{
		Valves: map[int]Valve{1: {Index: 1, TemperatureSetpoint: 40, FlowSetpoint: 50}},
	}, t0.Add(2*time.Second))
	s.ApplyRestState("dev-1", restSnapshot(SystemShowerInProgress, 38), t0.Add(time.Second))

	st, err := s.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := st.Valves[1].TemperatureSetpoint; got != 40 {
		t.Errorf("valve 1 TemperatureSetpoint = %v, want 40 (realtime value)", got)
	}
	// Groups the push did not carry take the REST values.
	if st.System.Mode != SystemShowerInProgress {
		t.Errorf("System.Mode = %q, want %q", st.System.Mode, SystemShowerInProgress)
	}
	if st.Connection != ConnectionConnected {
		t.Errorf("Connection = %q, want connected", st.Connection)
	}
	if st.LastUpdateSource != SourceRealtime {
		t.Errorf("LastUpdateSource = %q, want realtime", st.LastUpdateSource)
	}
	if !st.LastUpdateTime.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("LastUpdateTime = %v, want t0+2s", st.LastUpdateTime)
	}
}

func TestApply_NewerRestOverwritesRealtime(t *testing.T) {
	s := NewStore()
	s.ApplyRealtimeFragment("dev-1", Fragment{Connection: disconnected()}, t0)
	s.ApplyRestState("dev-1", restSnapshot(SystemNormalOperation, 38), t0.Add(time.Second))

	st, _ := s.Get("dev-1")
	if st.Connection != ConnectionConnected {
		t.Errorf("Connection = %q, want connected", st.Connection)
	}
	if st.LastUpdateSource != SourceRest {
		t.Errorf("LastUpdateSource = %q, want rest", st.LastUpdateSource)
	}
}

func TestApply_EqualTimestampApplies(t *testing.T) {
	s := NewStore()
	s.ApplyRealtimeFragment("dev-1", Fragment{Connection: connected()}, t0)
	if !s.ApplyRealtimeFragment("dev-1", Fragment{Connection: disconnected()}, t0) {
		t.Fatal("ApplyRealtimeFragment() = false at equal timestamp, want true")
	}
	st, _ := s.Get("dev-1")
	if st.Connection != ConnectionDisconnected {
		t.Errorf("Connection = %q, want disconnected", st.Connection)
	}
}

func TestApply_StaleFragmentIgnored(t *testing.T) {
	s := NewStore()
	s.ApplyRealtimeFragment("dev-1", Fragment{Warmup: &Warmup{Enabled: true, InProgress: true}}, t0.Add(time.Minute))

	if s.ApplyRealtimeFragment("dev-1", Fragment{Warmup: &Warmup{}}, t0) {
		t.Error("ApplyRealtimeFragment() = true for stale fragment, want false")
	}
	st, _ := s.Get("dev-1")
	if !st.Warmup.InProgress {
		t.Error("Warmup.InProgress = false, want stale fragment ignored")
	}
}

func TestApply_ValvesAreOneGroup(t *testing.T) {
	s := NewStore()
	s.ApplyRestState("dev-1", DeviceState{
		Connection: ConnectionConnected,
		Valves: map[int]Valve{
			1: {Index: 1, TemperatureSetpoint: 37, FlowSetpoint: 50},
			2: {Index: 2, TemperatureSetpoint: 30, FlowSetpoint: 50},
		},
	}, t0)
	// A push naming only valve 1 updates it and keeps valve 2.
	s.ApplyRealtimeFragment("dev-1", Fragment{
		Valves: map[int]Valve{1: {Index: 1, TemperatureSetpoint: 41, FlowSetpoint: 90}},
	}, t0.Add(20*time.Second))
	// A poll issued before the push must not touch any valve.
	stale := s.ApplyRestState("dev-1", DeviceState{
		Connection: ConnectionConnected,
		Valves: map[int]Valve{
			1: {Index: 1, TemperatureSetpoint: 37, FlowSetpoint: 50},
			2: {Index: 2, TemperatureSetpoint: 35, FlowSetpoint: 60},
		},
	}, t0.Add(15*time.Second))
	if !stale {
		t.Error("ApplyRestState() = false, want true (connection group is older)")
	}

	st, _ := s.Get("dev-1")
	tests := []struct {
		valve    int
		wantTemp float64
		wantFlow float64
	}{
		{1, 41, 90},
		{2, 30, 50},
	}
	for _, tt := range tests {
		v := st.Valves[tt.valve]
		if v.TemperatureSetpoint != tt.wantTemp || v.FlowSetpoint != tt.wantFlow {
			t.Errorf("valve %d = %v/%v, want %v/%v", tt.valve, v.TemperatureSetpoint, v.FlowSetpoint, tt.wantTemp, tt.wantFlow)
		}
	}
	if !st.Updated.Valves.Equal(t0.Add(20 * time.Second)) {
		t.Errorf("Updated.Valves = %v, want t0+20s", st.Updated.Valves)
	}
}

// =============================================================================
// Listener Tests
// =============================================================================

func TestOnChange(t *testing.T) {
	s := NewStore()

	var mu sync.Mutex
	var calls []DeviceState
	s.OnChange(func(id string, st DeviceState) {
		mu.Lock()
		calls = append(calls, st)
		mu.Unlock()
	})

	s.ApplyRestState("dev-1", restSnapshot(SystemNormalOperation, 38), t0.Add(time.Second))
	s.ApplyRealtimeFragment("dev-1", Fragment{Connection: disconnected()}, t0) // stale

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(calls))
	}
	if calls[0].DeviceID != "dev-1" {
		t.Errorf("listener DeviceID = %q, want dev-1", calls[0].DeviceID)
	}
}

func TestAgeAndDevices(t *testing.T) {
	s := NewStore()
	s.ApplyRestState("b", restSnapshot(SystemNormalOperation, 38), t0)
	s.ApplyRestState("a", restSnapshot(SystemNormalOperation, 38), t0)

	age, ok := s.Age("a", t0.Add(45*time.Second))
	if !ok || age != 45*time.Second {
		t.Errorf("Age() = %v, %v, want 45s, true", age, ok)
	}

	ids := s.Devices()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Devices() = %v, want [a b]", ids)
	}
}

func TestStore_ConcurrentApply(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.ApplyRealtimeFragment("dev-1", Fragment{
				Valves: map[int]Valve{1: {Index: 1, TemperatureSetpoint: float64(i)}},
			}, t0.Add(time.Duration(i)*time.Millisecond))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get("dev-1")
		}()
	}
	wg.Wait()

	st, err := s.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := st.Valves[1].TemperatureSetpoint; got != 49 {
		t.Errorf("TemperatureSetpoint = %v, want 49 (newest timestamp wins)", got)
	}
}
