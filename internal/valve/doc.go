// Package valve encodes and decodes the 4-byte valve commands understood by
// the Anthem digital shower controller.
//
// Every valve write on the wire is an 8-character hex string:
//
//	[prefix][temperature][flow][mode]
//
// where prefix selects the valve (01 for the primary valve, N1 for secondary
// valve N), temperature and flow are single quantized bytes, and mode selects
// the outlet or a stop/off state.
//
// # Quantization
//
// The controller firmware reports temperature as tenths of a degree above
// 25.6 °C, so the encoded byte is round((celsius - 25.6) * 10) clamped to
// 0..232 (48.8 °C). Flow is reported in half-percent steps, so the byte is
// round(percent * 2) clamped to 0..200.
//
// Requested values outside 15.0-48.8 °C or 0-100 % are rejected with
// ErrEncoding before any rounding takes place.
//
// # Usage
//
//	hex, err := valve.Encode(valve.Command{
//	    Selector:           valve.Primary,
//	    TemperatureCelsius: 37.7,
//	    FlowPercent:        100,
//	    Mode:               valve.ModeShowerhead,
//	})
//	// hex == "0179c801"
//
// Decode is the byte-level inverse and never fails on an unrecognised mode
// byte: such values surface as ModeUnknown so newer firmware does not break
// state parsing.
package valve
