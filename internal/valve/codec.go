package valve

import (
	"encoding/hex"
	"fmt"
	"math"
)

// Quantization constants observed from controller firmware.
const (
	temperatureOffset  = 25.6
	temperatureStep    = 0.1
	maxTemperatureByte = 232

	flowStep    = 0.5
	maxFlowByte = 200

	// encodedLength is the length of an encoded command in hex characters.
	encodedLength = 8
)

// Encode serializes a command into its 8-character lowercase hex form.
//
// Parameters:
//   - cmd: The command; temperature must be within MinTemperature..MaxTemperature,
//     flow within MinFlow..MaxFlow, selector primary or secondary 1-7
//     and mode one of the encodable modes
//
// Returns:
//   - string: Hex payload, e.g. "0179c801"
//   - error: ErrEncoding if any field is out of range
func Encode(cmd Command) (string, error) {
	if !cmd.Selector.Valid() {
		return "", fmt.Errorf("%w: selector %d out of range", ErrEncoding, cmd.Selector)
	}
	if math.IsNaN(cmd.TemperatureCelsius) ||
		cmd.TemperatureCelsius < MinTemperature || cmd.TemperatureCelsius > MaxTemperature {
		return "", fmt.Errorf("%w: temperature %.1f°C outside %.1f-%.1f",
			ErrEncoding, cmd.TemperatureCelsius, MinTemperature, MaxTemperature)
	}
	if math.IsNaN(cmd.FlowPercent) || cmd.FlowPercent < MinFlow || cmd.FlowPercent > MaxFlow {
		return "", fmt.Errorf("%w: flow %.1f%% outside %.0f-%.0f",
			ErrEncoding, cmd.FlowPercent, MinFlow, MaxFlow)
	}
	mode, ok := modeBytes[cmd.Mode]
	if !ok {
		return "", fmt.Errorf("%w: mode %q cannot be encoded", ErrEncoding, string(cmd.Mode))
	}

	payload := []byte{
		cmd.Selector.prefix(),
		TemperatureByte(cmd.TemperatureCelsius),
		FlowByte(cmd.FlowPercent),
		mode,
	}
	return hex.EncodeToString(payload), nil
}

// MustEncode is like Encode but panics on error.
// It is intended for package-level constants and tests.
func MustEncode(cmd Command) string {
	s, err := Encode(cmd)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses an 8-character hex payload. Hex digits are accepted in
// either case. Unknown mode bytes decode to ModeUnknown.
func Decode(payload string) (Command, error) {
	if len(payload) != encodedLength {
		return Command{}, fmt.Errorf("%w: payload %q must be %d hex characters",
			ErrEncoding, payload, encodedLength)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	sel, ok := selectorFromPrefix(raw[0])
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown valve prefix %02x", ErrEncoding, raw[0])
	}

	mode, ok := byteModes[raw[3]]
	if !ok {
		mode = ModeUnknown
	}

	return Command{
		Selector:           sel,
		TemperatureCelsius: TemperatureFromByte(raw[1]),
		FlowPercent:        FlowFromByte(raw[2]),
		Mode:               mode,
		RawMode:            raw[3],
	}, nil
}

// IsOff reports whether payload is the all-zero idle payload.
func IsOff(payload string) bool {
	return payload == OffPayload
}

// TemperatureByte quantizes a temperature to its wire byte.
func TemperatureByte(celsius float64) byte {
	return clampByte(math.Round((celsius-temperatureOffset)/temperatureStep), maxTemperatureByte)
}

// TemperatureFromByte converts a wire byte back to °C, rounded to 0.1.
func TemperatureFromByte(b byte) float64 {
	return math.Round((temperatureOffset+float64(b)*temperatureStep)*10) / 10
}

// FlowByte quantizes a flow percentage to its wire byte.
func FlowByte(percent float64) byte {
	return clampByte(math.Round(percent/flowStep), maxFlowByte)
}

// FlowFromByte converts a wire byte back to a flow percentage.
func FlowFromByte(b byte) float64 {
	return float64(b) * flowStep
}

func clampByte(v float64, maxValue byte) byte {
	switch {
	case v < 0:
		return 0
	case v > float64(maxValue):
		return maxValue
	default:
		return byte(v)
	}
}
