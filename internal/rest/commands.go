package rest

import (
	"context"
	"fmt"

	"github.com/nerrad567/anthem-core/internal/valve"
)

// DefaultWarmupPresetID is the preset id sent with warmup commands.
const DefaultWarmupPresetID = "1"

// Command verbs accepted by the preset and warmup endpoints.
const (
	verbStart = "start"
	verbStop  = "stop"
)

// Target addresses a command to one controller.
type Target struct {
	TenantID string
	DeviceID string
	// SKU defaults to DefaultSKU when empty.
	SKU string
}

// Validate checks the target names a tenant and device.
func (t Target) Validate() error {
	if t.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}
	if t.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}
	return nil
}

func (t Target) sku() string {
	if t.SKU == "" {
		return DefaultSKU
	}
	return t.SKU
}

// CommandResult is the cloud's acknowledgement of a command. Acceptance
// means the command was queued, not that the controller applied it.
type CommandResult struct {
	CorrelationID string `json:"correlation_id"`
	Timestamp     int64  `json:"timestamp"`
}

type commandResultWire struct {
	CorrelationID flexString `json:"correlationId"`
	Timestamp     flexInt    `json:"timestamp"`
}

// ValveControl is the payload of a valve write: one hex command per valve.
type ValveControl struct {
	Primary   string
	Secondary [valve.SecondaryCount]string
}

// NewValveControl builds a valve write from encoded commands. Valves no
// command addresses receive valve.OffPayload.
//
// Returns:
//   - ValveControl: Ready to send
//   - error: valve.ErrEncoding for an invalid command, or ErrInvalidArgument
//     when two commands address the same valve
func NewValveControl(cmds ...valve.Command) (ValveControl, error) {
	vc := ValveControl{Primary: valve.OffPayload}
	for i := range vc.Secondary {
		vc.Secondary[i] = valve.OffPayload
	}

	seen := make(map[valve.Selector]bool, len(cmds))
	for _, cmd := range cmds {
		if seen[cmd.Selector] {
			return ValveControl{}, fmt.Errorf("%w: %s addressed twice", ErrInvalidArgument, cmd.Selector)
		}
		seen[cmd.Selector] = true

		payload, err := valve.Encode(cmd)
		if err != nil {
			return ValveControl{}, err
		}
		if cmd.Selector.IsPrimary() {
			vc.Primary = payload
		} else {
			vc.Secondary[cmd.Selector.Index()-1] = payload
		}
	}
	return vc, nil
}

// MarshalJSON renders the vendor's gcsValveControlModel object.
func (vc ValveControl) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, 1+valve.SecondaryCount)
	m["primaryValve1"] = orOff(vc.Primary)
	for i, p := range vc.Secondary {
		m[fmt.Sprintf("secondaryValve%d", i+1)] = orOff(p)
	}
	return jsonMarshal(m)
}

func orOff(p string) string {
	if p == "" {
		return valve.OffPayload
	}
	return p
}

type presetCommandBody struct {
	TenantID string `json:"tenantId"`
	DeviceID string `json:"deviceId"`
	PresetID string `json:"presetId"`
	Command  string `json:"command"`
	SKU      string `json:"sku"`
}

type valveCommandBody struct {
	TenantID     string       `json:"tenantId"`
	DeviceID     string       `json:"deviceId"`
	ValveControl ValveControl `json:"gcsValveControlModel"`
	SKU          string       `json:"sku"`
}

// StartPreset starts a stored preset or experience.
func (g *Gateway) StartPreset(ctx context.Context, t Target, presetID string) (CommandResult, error) {
	return g.presetCommand(ctx, pathPresetControl, t, presetID, verbStart)
}

// StopPreset stops a running preset or experience.
func (g *Gateway) StopPreset(ctx context.Context, t Target, presetID string) (CommandResult, error) {
	return g.presetCommand(ctx, pathPresetControl, t, presetID, verbStop)
}

// StartWarmup starts warmup. An empty presetID uses DefaultWarmupPresetID.
func (g *Gateway) StartWarmup(ctx context.Context, t Target, presetID string) (CommandResult, error) {
	return g.presetCommand(ctx, pathWarmup, t, warmupPreset(presetID), verbStart)
}

// StopWarmup stops warmup. An empty presetID uses DefaultWarmupPresetID.
func (g *Gateway) StopWarmup(ctx context.Context, t Target, presetID string) (CommandResult, error) {
	return g.presetCommand(ctx, pathWarmup, t, warmupPreset(presetID), verbStop)
}

func warmupPreset(id string) string {
	if id == "" {
		return DefaultWarmupPresetID
	}
	return id
}

func (g *Gateway) presetCommand(ctx context.Context, path string, t Target, presetID, verb string) (CommandResult, error) {
	if err := t.Validate(); err != nil {
		return CommandResult{}, err
	}
	if presetID == "" {
		return CommandResult{}, fmt.Errorf("%w: preset id is required", ErrInvalidArgument)
	}
	body := presetCommandBody{
		TenantID: t.TenantID,
		DeviceID: t.DeviceID,
		PresetID: presetID,
		Command:  verb,
		SKU:      t.sku(),
	}
	return g.command(ctx, path, body)
}

// WriteValves sends a valve write.
//
// Commands are never retried automatically: a lost acknowledgement does not
// mean the controller missed the command.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - t: The controller to address
//   - vc: Payload for every valve
//
// Returns:
//   - CommandResult: The cloud's acknowledgement
//   - error: ErrInvalidArgument, ErrAuthorization, or a transport error
func (g *Gateway) WriteValves(ctx context.Context, t Target, vc ValveControl) (CommandResult, error) {
	if err := t.Validate(); err != nil {
		return CommandResult{}, err
	}
	body := valveCommandBody{
		TenantID:     t.TenantID,
		DeviceID:     t.DeviceID,
		ValveControl: vc,
		SKU:          t.sku(),
	}
	return g.command(ctx, pathValveControl, body)
}

func (g *Gateway) command(ctx context.Context, path string, body any) (CommandResult, error) {
	var w commandResultWire
	if err := g.post(ctx, path, body, &w); err != nil {
		return CommandResult{}, err
	}
	res := CommandResult{
		CorrelationID: string(w.CorrelationID),
		Timestamp:     int64(w.Timestamp),
	}
	g.logger.Debug("command accepted", "path", path, "correlation_id", res.CorrelationID)
	return res, nil
}
