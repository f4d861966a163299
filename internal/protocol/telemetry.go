package protocol

// TelemetryMode is one 2-bit sensor-class advertisement setting.
type TelemetryMode byte

const (
	TelemetryOff    TelemetryMode = 0
	TelemetryDevice TelemetryMode = 1
	TelemetryShared TelemetryMode = 2
	TelemetryAlways TelemetryMode = 3
)

// TelemetryModes holds the three independent telemetry mode settings that
// share a single wire byte.
type TelemetryModes struct {
	Base        TelemetryMode
	Location    TelemetryMode
	Environment TelemetryMode
}

// Pack folds the three modes into the firmware's bit layout:
// environment in bits 4-5, location in bits 2-3, base in bits 0-1.
func (m TelemetryModes) Pack() byte {
	return byte(m.Environment&0x03)<<4 | byte(m.Location&0x03)<<2 | byte(m.Base&0x03)
}

// UnpackTelemetryModes recovers the three modes from a packed byte.
func UnpackTelemetryModes(b byte) TelemetryModes {
	return TelemetryModes{
		Base:        TelemetryMode(b & 0x03),
		Location:    TelemetryMode(b >> 2 & 0x03),
		Environment: TelemetryMode(b >> 4 & 0x03),
	}
}
