package state

import (
	"slices"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener is notified after an update changed a device's state.
// It receives a deep copy and runs on the updating goroutine, outside the
// Store's lock; it must not block.
type Listener func(deviceID string, s DeviceState)

// Store is the in-memory state of every device seen this session.
// Entries are created on first observation and live until the Store is
// discarded.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*DeviceState

	listenerMu sync.RWMutex
	listeners  []Listener

	logger Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		devices: make(map[string]*DeviceState),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// OnChange registers a listener for state changes.
func (s *Store) OnChange(l Listener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()
}

// Observe records that a device exists without setting any state.
// Get then returns an empty DeviceState rather than ErrUnknownDevice.
func (s *Store) Observe(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(deviceID)
}

// ApplyRestState merges a full REST snapshot taken at ts.
// It reports whether any field group was written.
func (s *Store) ApplyRestState(deviceID string, snapshot DeviceState, ts time.Time) bool {
	return s.apply(deviceID, Snapshot(snapshot), ts, SourceRest)
}

// ApplyRealtimeFragment merges a realtime fragment received at ts.
// It reports whether any field group was written.
func (s *Store) ApplyRealtimeFragment(deviceID string, f Fragment, ts time.Time) bool {
	return s.apply(deviceID, f, ts, SourceRealtime)
}

// apply merges f into the device's state group by group.
// A group is written when ts is not older than the group's last write.
func (s *Store) apply(deviceID string, f Fragment, ts time.Time, src Source) bool {
	s.mu.Lock()
	st := s.entry(deviceID)

	var written, skipped int
	if f.Connection != nil {
		if !ts.Before(st.Updated.Connection) {
			st.Connection = *f.Connection
			st.Updated.Connection = ts
			written++
		} else {
			skipped++
		}
	}
	if f.System != nil {
		if !ts.Before(st.Updated.System) {
			st.System = *f.System
			st.Updated.System = ts
			written++
		} else {
			skipped++
		}
	}
	if f.Warmup != nil {
		if !ts.Before(st.Updated.Warmup) {
			st.Warmup = *f.Warmup
			st.Updated.Warmup = ts
			written++
		} else {
			skipped++
		}
	}
	// Valves are one group. A fragment naming only some valves updates
	// those entries and leaves the others in place.
	if len(f.Valves) > 0 {
		if !ts.Before(st.Updated.Valves) {
			for idx, v := range f.Valves {
				st.Valves[idx] = v
			}
			st.Updated.Valves = ts
			written++
		} else {
			skipped++
		}
	}

	if written > 0 && !ts.Before(st.LastUpdateTime) {
		st.LastUpdateTime = ts
		st.LastUpdateSource = src
	}

	var snapshot DeviceState
	if written > 0 {
		snapshot = st.Clone()
	}
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Debug("stale state groups ignored",
			"device_id", deviceID,
			"source", string(src),
			"skipped", skipped,
			"written", written,
		)
	}
	if written == 0 {
		return false
	}

	s.notify(deviceID, snapshot)
	return true
}

// entry returns the state for deviceID, creating it if needed.
// Caller must hold s.mu for writing.
func (s *Store) entry(deviceID string) *DeviceState {
	st, ok := s.devices[deviceID]
	if !ok {
		st = &DeviceState{
			DeviceID: deviceID,
			Valves:   make(map[int]Valve),
		}
		s.devices[deviceID] = st
	}
	return st
}

func (s *Store) notify(deviceID string, snapshot DeviceState) {
	s.listenerMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		// Each listener gets its own copy.
		l(deviceID, snapshot.Clone())
	}
}

// Get returns a deep copy of the device's current state.
// Returns ErrUnknownDevice if the device has never been observed.
func (s *Store) Get(deviceID string) (DeviceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.devices[deviceID]
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	return st.Clone(), nil
}

// Age returns how long ago any update was applied to the device.
// A device that has been observed but never updated reports ok=false.
func (s *Store) Age(deviceID string, now time.Time) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.devices[deviceID]
	if !ok || st.LastUpdateTime.IsZero() {
		return 0, false
	}
	return now.Sub(st.LastUpdateTime), true
}

// Devices returns the ids of all observed devices, sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Count returns the number of observed devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
