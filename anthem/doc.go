// Package anthem is the client for Kohler Anthem digital shower controllers.
//
// A Client combines the pieces needed to talk to the vendor cloud under one
// explicit lifecycle:
//   - An OAuth session that keeps a bearer token valid
//   - A REST gateway for discovery, state polls, presets and commands
//   - A merged in-memory view of every device's state
//   - An optional realtime channel that pushes state changes as they happen
//
// Commands never change the cached state. A command is only an instruction
// to the cloud; its effect becomes visible when the next poll or realtime
// push reports it.
//
// Usage:
//
//	client, err := anthem.New(creds, anthem.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Open(ctx); err != nil {
//	    return err
//	}
//	devices, err := client.DiscoverDevices(ctx)
//	...
//	_, err = client.TurnOnOutlet(ctx, devices[0].DeviceID, anthem.OutletShowerhead, 38.5)
//
// Thread Safety:
//   - All Client methods are safe for concurrent use.
//   - Close waits for in-flight commands; pending reads are cancelled.
package anthem
