package protocol

import (
	"encoding/binary"
)

// appendUint32 appends v little-endian.
func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// truncate limits s to max bytes without erroring. The firmware ignores
// anything past the declared width, so the client clips rather than rejects.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// fixed returns b copied into a zero-padded slice of exactly n bytes.
func fixed(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// AppStart builds the session handshake frame. The radio answers with
// SelfInfo. clientID identifies this client to the firmware and is clipped
// to 5 bytes; the six reserved bytes are 0x20 per the companion protocol.
func AppStart(clientID string) []byte {
	buf := make([]byte, 0, 8+MaxClientIDLen)
	buf = append(buf, CmdAppStart, AppVersion)
	buf = append(buf, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20)
	buf = append(buf, truncate(clientID, MaxClientIDLen)...)
	return buf
}

// SendTxtMsg builds a direct text message frame addressed by the 6-byte
// public key prefix. attempt is echoed by the firmware in retry statistics.
func SendTxtMsg(dest [KeyPrefixLen]byte, attempt byte, timestamp uint32, text string) []byte {
	buf := make([]byte, 0, 13+len(text))
	buf = append(buf, CmdSendTxtMsg, 0x00, attempt)
	buf = appendUint32(buf, timestamp)
	buf = append(buf, dest[:]...)
	buf = append(buf, text...)
	return buf
}

// SendChannelTxtMsg builds a channel (group) text message frame.
func SendChannelTxtMsg(channel byte, timestamp uint32, text string) []byte {
	buf := make([]byte, 0, 7+len(text))
	buf = append(buf, CmdSendChannelTxtMsg, 0x00, channel)
	buf = appendUint32(buf, timestamp)
	buf = append(buf, text...)
	return buf
}

// GetContacts requests the full contact list. since limits the sync to
// contacts modified after the given epoch second; zero means everything.
func GetContacts(since uint32) []byte {
	if since == 0 {
		return []byte{CmdGetContacts}
	}
	return appendUint32([]byte{CmdGetContacts}, since)
}

// GetDeviceTime requests the radio's clock.
func GetDeviceTime() []byte {
	return []byte{CmdGetDeviceTime}
}

// SetDeviceTime sets the radio's clock to the given epoch second.
func SetDeviceTime(timestamp uint32) []byte {
	return appendUint32([]byte{CmdSetDeviceTime}, timestamp)
}

// SendSelfAdvert builds a self-advertisement trigger frame.
func SendSelfAdvert(kind AdvertKind) []byte {
	return []byte{CmdSendSelfAdvert, byte(kind)}
}

// SetAdvertName sets the name this node advertises. Clipped to the
// firmware's 32-byte advert name field.
func SetAdvertName(name string) []byte {
	buf := []byte{CmdSetAdvertName}
	return append(buf, truncate(name, AdvNameLen)...)
}

// SyncNextMessage asks the radio for the next queued inbound message.
// The radio answers with ContactMsgRecv, ChannelMsgRecv, or NoMoreMessages.
func SyncNextMessage() []byte {
	return []byte{CmdSyncNextMessage}
}

// SetRadioParams configures the LoRa radio. Frequency and bandwidth are in
// kilohertz, sf is the spreading factor, cr the coding rate.
func SetRadioParams(freqKHz, bwKHz uint32, sf, cr byte) []byte {
	buf := make([]byte, 0, 11)
	buf = append(buf, CmdSetRadioParams)
	buf = appendUint32(buf, freqKHz)
	buf = appendUint32(buf, bwKHz)
	buf = append(buf, sf, cr)
	return buf
}

// ResetPath drops the routed path for a contact so the next send triggers
// path discovery.
func ResetPath(dest [KeyPrefixLen]byte) []byte {
	buf := make([]byte, 0, 1+KeyPrefixLen)
	buf = append(buf, CmdResetPath)
	return append(buf, dest[:]...)
}

// SetAdvertLatLon sets the advertised position in microdegrees.
func SetAdvertLatLon(latMicro, lonMicro int32) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, CmdSetAdvertLatLon)
	buf = appendUint32(buf, uint32(latMicro))
	return appendUint32(buf, uint32(lonMicro))
}

// GetBattery requests the battery voltage.
func GetBattery() []byte {
	return []byte{CmdGetBattery}
}

// DeviceQuery requests firmware/device details. appTargetVer tells the
// firmware which response layout revision the client understands.
func DeviceQuery(appTargetVer byte) []byte {
	return []byte{CmdDeviceQuery, appTargetVer}
}

// SendStatusReq asks a remote node (typically a repeater) for its status.
func SendStatusReq(dest [KeyPrefixLen]byte) []byte {
	buf := make([]byte, 0, 1+KeyPrefixLen)
	buf = append(buf, CmdSendStatusReq)
	return append(buf, dest[:]...)
}

// GetChannel requests the configuration of one channel slot.
func GetChannel(index byte) []byte {
	return []byte{CmdGetChannel, index}
}

// SetChannel configures a channel slot. The name occupies a fixed 32-byte
// zero-padded field and the secret a fixed 16 bytes; oversized inputs are
// clipped.
func SetChannel(index byte, name string, secret []byte) []byte {
	buf := make([]byte, 0, 2+ChannelNameLen+ChannelSecretLen)
	buf = append(buf, CmdSetChannel, index)
	buf = append(buf, fixed([]byte(truncate(name, ChannelNameLen)), ChannelNameLen)...)
	buf = append(buf, fixed(secret, ChannelSecretLen)...)
	return buf
}

// SetTelemetryModes packs the three 2-bit telemetry mode enums into one
// byte and builds the configuration frame.
func SetTelemetryModes(modes TelemetryModes) []byte {
	return []byte{CmdSetTelemetryModes, modes.Pack()}
}
