// Package influxdb exports merged shower state to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library for connection
// management and batched writes, and adds an Exporter that turns every
// state.Store change into points.
//
// # Measurements
//
//   - shower_state (tags device_id, source): connection, showering, system
//     mode, active preset, totals and warmup flags
//   - valve_state (tags device_id, valve): setpoints, at-temperature and
//     at-flow flags, mode, open outlet count, error and pause flags
//
// Points carry the snapshot's last update time.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	store.OnChange(influxdb.NewExporter(client).Listener())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes never block the caller; batches are flushed by size or interval
// (batch_size, flush_interval) and failures are reported via SetOnError.
package influxdb
