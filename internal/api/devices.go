package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/anthem-core/anthem"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// deviceSummary is one entry of the device list.
type deviceSummary struct {
	rest.Device
	Connection     state.Connection `json:"connection"`
	Showering      bool             `json:"showering"`
	LastUpdateTime string           `json:"last_update_time,omitempty"`
}

// handleListDevices returns the customer's devices with a cached state summary.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	customer, err := s.ctrl.GetCustomer(r.Context(), "")
	if err != nil {
		writeClientError(w, err)
		return
	}

	devices := customer.Devices()
	out := make([]deviceSummary, 0, len(devices))
	for _, d := range devices {
		sum := deviceSummary{Device: d}
		if st, err := s.ctrl.Store().Get(d.DeviceID); err == nil {
			sum.Connection = st.Connection
			sum.Showering = st.Showering()
			if !st.LastUpdateTime.IsZero() {
				sum.LastUpdateTime = st.LastUpdateTime.UTC().Format(timeFormat)
			}
		}
		out = append(out, sum)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id": customer.ID,
		"devices":     out,
		"count":       len(out),
	})
}

// handleGetDeviceState returns the device's merged state.
//
// Query parameters:
//   - refresh: "true" forces a REST poll regardless of freshness
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		st  anthem.DeviceState
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		st, err = s.ctrl.RefreshDeviceState(r.Context(), id)
	} else {
		st, err = s.ctrl.GetDeviceState(r.Context(), id)
	}
	if err != nil {
		writeClientError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newStatePayload(id, st))
}

// handleListPresets returns the device's presets and experiences.
//
// Query parameters:
//   - kind: "presets" or "experiences" to filter
func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	list, err := s.ctrl.GetPresets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeClientError(w, err)
		return
	}

	var presets []anthem.Preset
	switch kind := r.URL.Query().Get("kind"); kind {
	case "":
		presets = list.All
	case "presets":
		presets = list.Presets()
	case "experiences":
		presets = list.Experiences()
	default:
		writeBadRequest(w, "kind must be presets or experiences")
		return
	}
	if presets == nil {
		presets = []anthem.Preset{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": list.DeviceID,
		"presets":   presets,
		"count":     len(presets),
	})
}

// outletRequest is the body of POST /devices/{id}/outlets.
type outletRequest struct {
	Outlet      string   `json:"outlet"`
	Temperature *float64 `json:"temperature,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Flow        *float64 `json:"flow,omitempty"`
	Secondary   int      `json:"secondary,omitempty"`
}

// handleTurnOnOutlet opens an outlet. Temperature defaults to the
// standard comfort temperature and flow to 100%.
func (s *Server) handleTurnOnOutlet(w http.ResponseWriter, r *http.Request) {
	var req outletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	outlet, err := valve.ParseOutlet(req.Outlet)
	if err != nil {
		writeClientError(w, err)
		return
	}

	temp := anthem.DefaultTemperature
	if req.Temperature != nil {
		if temp, err = toCelsius(*req.Temperature, req.Unit); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	var opts []anthem.OutletOption
	if req.Flow != nil {
		opts = append(opts, anthem.WithFlow(*req.Flow))
	}
	if req.Secondary != 0 {
		opts = append(opts, anthem.WithSecondary(req.Secondary))
	}

	res, err := s.ctrl.TurnOnOutlet(r.Context(), chi.URLParam(r, "id"), outlet, temp, opts...)
	writeCommandResult(w, res, err)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.TurnOff(r.Context(), chi.URLParam(r, "id"))
	writeCommandResult(w, res, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.Pause(r.Context(), chi.URLParam(r, "id"))
	writeCommandResult(w, res, err)
}

// setpointRequest is the body of the temperature and flow endpoints.
type setpointRequest struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Flow        *float64 `json:"flow,omitempty"`
}

func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	var req setpointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Temperature == nil {
		writeBadRequest(w, "temperature is required")
		return
	}
	temp, err := toCelsius(*req.Temperature, req.Unit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.ctrl.SetTemperature(r.Context(), chi.URLParam(r, "id"), temp)
	writeCommandResult(w, res, err)
}

func (s *Server) handleSetFlow(w http.ResponseWriter, r *http.Request) {
	var req setpointRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Flow == nil {
		writeBadRequest(w, "flow is required")
		return
	}

	res, err := s.ctrl.SetFlow(r.Context(), chi.URLParam(r, "id"), *req.Flow)
	writeCommandResult(w, res, err)
}

func (s *Server) handleStartPreset(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StartPreset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "preset"))
	writeCommandResult(w, res, err)
}

func (s *Server) handleStopPreset(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StopPreset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "preset"))
	writeCommandResult(w, res, err)
}

// handleStartWarmup starts a warmup. The optional preset query parameter
// picks the preset whose temperature is used.
func (s *Server) handleStartWarmup(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StartWarmup(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("preset"))
	writeCommandResult(w, res, err)
}

func (s *Server) handleStopWarmup(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StopWarmup(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("preset"))
	writeCommandResult(w, res, err)
}

// writeCommandResult answers 202: the cloud queued the command, nothing more.
func writeCommandResult(w http.ResponseWriter, res anthem.CommandResult, err error) {
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
		case errors.Is(err, io.EOF):
			writeBadRequest(w, "request body required")
		default:
			writeBadRequest(w, "invalid JSON body: "+err.Error())
		}
		return false
	}
	return true
}

// toCelsius converts a temperature in the given unit ("C" when empty).
func toCelsius(t float64, unit string) (float64, error) {
	switch strings.ToUpper(unit) {
	case "", "C":
		return t, nil
	case "F":
		return valve.FahrenheitToCelsius(t), nil
	default:
		return 0, errors.New("unit must be C or F")
	}
}
