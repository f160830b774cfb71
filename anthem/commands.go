package anthem

import (
	"context"
	"fmt"

	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// beginCommand registers an in-flight command so Close waits for it.
func (c *Client) beginCommand() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return nil, err
	}
	c.commands.Add(1)
	return c.commands.Done, nil
}

// TurnOnOutlet opens an outlet at the given temperature (°C). The primary
// valve is always driven; a secondary valve is added when one is mapped to
// the outlet or requested with WithSecondary.
//
// The cached state is not changed. The result only means the cloud
// accepted the command.
//
// Returns:
//   - CommandResult: The cloud's acknowledgement
//   - error: ErrUnknownOutlet, ErrEncoding, ErrNoTenant or a transport error
func (c *Client) TurnOnOutlet(ctx context.Context, deviceID string, outlet Outlet, temperatureCelsius float64, opts ...OutletOption) (CommandResult, error) {
	mode, err := valve.ModeForOutlet(outlet)
	if err != nil {
		return CommandResult{}, err
	}

	req := outletRequest{flow: valve.DefaultFlow, secondary: c.opts.outletValves[outlet]}
	for _, opt := range opts {
		opt(&req)
	}

	cmds := []valve.Command{{
		Selector:           valve.Primary,
		TemperatureCelsius: temperatureCelsius,
		FlowPercent:        req.flow,
		Mode:               mode,
	}}
	if req.secondary > 0 {
		cmds = append(cmds, valve.Command{
			Selector:           valve.Secondary(req.secondary),
			TemperatureCelsius: temperatureCelsius,
			FlowPercent:        req.flow,
			Mode:               mode,
		})
	}

	res, err := c.writeCommands(ctx, deviceID, cmds...)
	if err != nil {
		return CommandResult{}, err
	}
	c.logger.Info("outlet turned on",
		"device_id", deviceID,
		"outlet", string(outlet),
		"temperature", temperatureCelsius,
		"flow", req.flow,
		"correlation_id", res.CorrelationID,
	)
	return res, nil
}

// TurnOff closes the primary valve and every mapped secondary valve.
func (c *Client) TurnOff(ctx context.Context, deviceID string) (CommandResult, error) {
	cmds := []valve.Command{valve.Off(valve.Primary)}
	seen := make(map[int]bool)
	for _, n := range c.opts.outletValves {
		if n > 0 && !seen[n] {
			seen[n] = true
			cmds = append(cmds, valve.Off(valve.Secondary(n)))
		}
	}

	res, err := c.writeCommands(ctx, deviceID, cmds...)
	if err != nil {
		return CommandResult{}, err
	}
	c.logger.Info("device turned off", "device_id", deviceID, "correlation_id", res.CorrelationID)
	return res, nil
}

// Pause stops the water on the primary valve while keeping its current
// temperature and flow, so a later TurnOnOutlet resumes at the same settings.
func (c *Client) Pause(ctx context.Context, deviceID string) (CommandResult, error) {
	temp, flow, _ := c.currentSettings(deviceID)
	res, err := c.writeCommands(ctx, deviceID, valve.Stop(valve.Primary, temp, flow))
	if err != nil {
		return CommandResult{}, err
	}
	c.logger.Info("device paused", "device_id", deviceID, "correlation_id", res.CorrelationID)
	return res, nil
}

// SetTemperature changes the primary valve's temperature, keeping the
// current flow and outlet. The showerhead is used when nothing is running.
func (c *Client) SetTemperature(ctx context.Context, deviceID string, temperatureCelsius float64) (CommandResult, error) {
	_, flow, mode := c.currentSettings(deviceID)
	return c.writeCommands(ctx, deviceID, valve.Command{
		Selector:           valve.Primary,
		TemperatureCelsius: temperatureCelsius,
		FlowPercent:        flow,
		Mode:               mode,
	})
}

// SetFlow changes the primary valve's flow, keeping the current
// temperature and outlet. The showerhead is used when nothing is running.
func (c *Client) SetFlow(ctx context.Context, deviceID string, flowPercent float64) (CommandResult, error) {
	temp, _, mode := c.currentSettings(deviceID)
	return c.writeCommands(ctx, deviceID, valve.Command{
		Selector:           valve.Primary,
		TemperatureCelsius: temp,
		FlowPercent:        flowPercent,
		Mode:               mode,
	})
}

// currentSettings returns the primary valve's cached setpoints and an
// outlet mode to keep, falling back to defaults for anything unknown.
func (c *Client) currentSettings(deviceID string) (temp, flow float64, mode valve.Mode) {
	temp, flow, mode = valve.DefaultTemperature, valve.DefaultFlow, valve.ModeShowerhead

	st, err := c.store.Get(deviceID)
	if err != nil {
		return temp, flow, mode
	}
	v, ok := st.Primary()
	if !ok {
		return temp, flow, mode
	}
	if v.TemperatureSetpoint >= valve.MinTemperature && v.TemperatureSetpoint <= valve.MaxTemperature {
		temp = v.TemperatureSetpoint
	}
	if v.FlowSetpoint > valve.MinFlow && v.FlowSetpoint <= valve.MaxFlow {
		flow = v.FlowSetpoint
	}
	if m := modeFromOutlets(v); m.Flowing() {
		mode = m
	}
	return temp, flow, mode
}

// modeFromOutlets prefers the reported mode and otherwise derives one from
// which outlets are open.
func modeFromOutlets(v state.Valve) valve.Mode {
	if v.Mode.Flowing() {
		return v.Mode
	}
	open := [state.OutletCount]bool{}
	for i, o := range v.Outlets {
		open[i] = o.Enabled
	}
	for _, m := range []valve.Mode{valve.ModeShowerhead, valve.ModeTubFiller, valve.ModeTubAndHandheld} {
		if m.OpenOutlets() == open {
			return m
		}
	}
	return valve.ModeUnknown
}

// WriteValves sends raw valve commands. Valves not named are sent the idle
// payload.
func (c *Client) WriteValves(ctx context.Context, deviceID string, cmds ...ValveCommand) (CommandResult, error) {
	return c.writeCommands(ctx, deviceID, cmds...)
}

func (c *Client) writeCommands(ctx context.Context, deviceID string, cmds ...valve.Command) (CommandResult, error) {
	vc, err := rest.NewValveControl(cmds...)
	if err != nil {
		return CommandResult{}, err
	}
	return c.command(ctx, deviceID, "valve write", func(ctx context.Context, t rest.Target) (rest.CommandResult, error) {
		return c.gateway.WriteValves(ctx, t, vc)
	})
}

// StartPreset runs a stored preset or experience.
func (c *Client) StartPreset(ctx context.Context, deviceID, presetID string) (CommandResult, error) {
	return c.command(ctx, deviceID, "start preset", func(ctx context.Context, t rest.Target) (rest.CommandResult, error) {
		return c.gateway.StartPreset(ctx, t, presetID)
	})
}

// StopPreset stops a running preset or experience.
func (c *Client) StopPreset(ctx context.Context, deviceID, presetID string) (CommandResult, error) {
	return c.command(ctx, deviceID, "stop preset", func(ctx context.Context, t rest.Target) (rest.CommandResult, error) {
		return c.gateway.StopPreset(ctx, t, presetID)
	})
}

// StartWarmup heats the water using a preset's temperature. An empty
// presetID uses the default warmup preset.
func (c *Client) StartWarmup(ctx context.Context, deviceID, presetID string) (CommandResult, error) {
	return c.command(ctx, deviceID, "start warmup", func(ctx context.Context, t rest.Target) (rest.CommandResult, error) {
		return c.gateway.StartWarmup(ctx, t, presetID)
	})
}

// StopWarmup cancels a warmup in progress.
func (c *Client) StopWarmup(ctx context.Context, deviceID, presetID string) (CommandResult, error) {
	return c.command(ctx, deviceID, "stop warmup", func(ctx context.Context, t rest.Target) (rest.CommandResult, error) {
		return c.gateway.StopWarmup(ctx, t, presetID)
	})
}

// command runs one command POST. It is not cancelled by Close, which waits
// for it instead; only ctx bounds it.
func (c *Client) command(ctx context.Context, deviceID, name string, send func(context.Context, rest.Target) (rest.CommandResult, error)) (CommandResult, error) {
	done, err := c.beginCommand()
	if err != nil {
		return CommandResult{}, err
	}
	defer done()

	t, err := c.target(deviceID)
	if err != nil {
		return CommandResult{}, err
	}

	res, err := send(ctx, t)
	if err != nil {
		c.logger.Warn("command failed", "command", name, "device_id", deviceID, "error", err)
		return CommandResult{}, fmt.Errorf("anthem: %s: %w", name, err)
	}
	return res, nil
}
