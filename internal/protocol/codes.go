// Package protocol implements the companion-radio byte protocol: command
// frame building, response/push frame parsing, and the small helpers the
// firmware's wire format requires (telemetry bit-fields, channel secrets).
//
// A frame is one discrete byte sequence: byte 0 is a command or event code,
// the remainder is a code-specific payload. Integers are little-endian,
// strings are UTF-8 and never null-terminated on the wire; the receiver
// relies on declared widths or the remaining frame length.
package protocol

// Command codes (client -> radio).
const (
	CmdAppStart           byte = 0x01
	CmdSendTxtMsg         byte = 0x02
	CmdSendChannelTxtMsg  byte = 0x03
	CmdGetContacts        byte = 0x04
	CmdGetDeviceTime      byte = 0x05
	CmdSetDeviceTime      byte = 0x06
	CmdSendSelfAdvert     byte = 0x07
	CmdSetAdvertName      byte = 0x08
	CmdSyncNextMessage    byte = 0x0A
	CmdSetRadioParams     byte = 0x0B
	CmdResetPath          byte = 0x0D
	CmdSetAdvertLatLon    byte = 0x0E
	CmdGetBattery         byte = 0x14
	CmdDeviceQuery        byte = 0x16
	CmdSendStatusReq      byte = 0x1B
	CmdGetChannel         byte = 0x1F
	CmdSetChannel         byte = 0x20
	CmdSetTelemetryModes  byte = 0x26
)

// Response codes (radio -> client, solicited).
const (
	RespOk             byte = 0x00
	RespErr            byte = 0x01
	RespContactsStart  byte = 0x02
	RespContact        byte = 0x03
	RespEndOfContacts  byte = 0x04
	RespSelfInfo       byte = 0x05
	RespMessageSent    byte = 0x06
	RespContactMsgRecv byte = 0x07
	RespChannelMsgRecv byte = 0x08
	RespCurrTime       byte = 0x09
	RespNoMoreMessages byte = 0x0A
	RespBattery        byte = 0x0C
	RespDeviceInfo     byte = 0x0D
	RespChannelInfo    byte = 0x12
)

// Push codes (radio -> client, unsolicited). Everything >= 0x80 is a push.
const (
	PushAdvert         byte = 0x80
	PushPathUpdated    byte = 0x81
	PushSendConfirmed  byte = 0x82
	PushMsgWaiting     byte = 0x83
	PushRawData        byte = 0x84
	PushLoginSuccess   byte = 0x85
	PushStatusResponse byte = 0x87
	PushLogRxData      byte = 0x88
	PushNewAdvert      byte = 0x8A
	PushTelemetry      byte = 0x8B
)

// Protocol-fixed field widths. Oversized inputs are truncated, not rejected,
// matching firmware tolerance.
const (
	AppVersion     byte = 0x03
	MaxClientIDLen      = 5
	KeyPrefixLen        = 6
	PublicKeyLen        = 32
	ChannelNameLen      = 32
	ChannelSecretLen    = 16
	MaxPathLen          = 64
	AdvNameLen          = 32
)

// MessageSent.Result values. Zero means the firmware could not queue the
// message; nonzero reports the routing mode it went out with.
const (
	SendResultFailed byte = 0
	SendResultFlood  byte = 1
	SendResultDirect byte = 2
)

// AdvertKind selects how a self-advertisement propagates.
type AdvertKind byte

const (
	AdvertZeroHop AdvertKind = 0x00
	AdvertFlood   AdvertKind = 0x01
)

// ContactType classifies a synced contact.
type ContactType byte

const (
	ContactTypeChat     ContactType = 1
	ContactTypeRepeater ContactType = 2
	ContactTypeRoom     ContactType = 3
)

func (t ContactType) String() string {
	switch t {
	case ContactTypeChat:
		return "chat"
	case ContactTypeRepeater:
		return "repeater"
	case ContactTypeRoom:
		return "room"
	default:
		return "unknown"
	}
}

// FloodPath is the outPathLen sentinel meaning "no routed path known; flood".
const FloodPath int8 = -1
