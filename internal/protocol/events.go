package protocol

import (
	"encoding/hex"
	"time"
)

// Event is one decoded inbound frame. Each concrete event type corresponds
// to a response or push code; Unknown covers codes this client does not
// recognize so newer firmware never breaks decoding.
type Event interface {
	// Code returns the wire code the event was decoded from.
	Code() byte
}

// Ok is the generic success response.
type Ok struct{}

func (Ok) Code() byte { return RespOk }

// ErrResponse is the generic failure response with a firmware error code.
type ErrResponse struct {
	ErrCode byte
}

func (ErrResponse) Code() byte { return RespErr }

// ContactsStart announces a contact sync and the number of entries to follow.
type ContactsStart struct {
	Count uint32
}

func (ContactsStart) Code() byte { return RespContactsStart }

// Contact is one synced mesh contact. PublicKey is the node identity; the
// first KeyPrefixLen bytes address it on the wire.
type Contact struct {
	PublicKey  [PublicKeyLen]byte
	Type       ContactType
	Flags      byte
	OutPathLen int8 // FloodPath when no routed path is known
	OutPath    []byte
	Name       string
	LastAdvert time.Time
	Latitude   float64
	Longitude  float64
	LastMod    time.Time
}

func (Contact) Code() byte { return RespContact }

// KeyPrefix returns the 6-byte wire address of the contact.
func (c Contact) KeyPrefix() [KeyPrefixLen]byte {
	var p [KeyPrefixLen]byte
	copy(p[:], c.PublicKey[:KeyPrefixLen])
	return p
}

// KeyHex returns the full public key as lowercase hex.
func (c Contact) KeyHex() string {
	return hex.EncodeToString(c.PublicKey[:])
}

// EndOfContacts terminates a contact sync.
type EndOfContacts struct{}

func (EndOfContacts) Code() byte { return RespEndOfContacts }

// SelfInfo describes the connected radio itself; the radio sends it in
// answer to AppStart.
type SelfInfo struct {
	TxPower           byte
	MaxTxPower        byte
	PublicKey         [PublicKeyLen]byte
	Latitude          float64
	Longitude         float64
	ManualAddContacts bool
	RadioFreqKHz      uint32
	RadioBwKHz        uint32
	RadioSF           byte
	RadioCR           byte
	Name              string
}

func (SelfInfo) Code() byte { return RespSelfInfo }

// MessageSent acknowledges that the radio accepted an outbound message.
// AckCode correlates the later DeliveryConfirmed push; EstTimeout is the
// firmware's round-trip estimate in milliseconds.
type MessageSent struct {
	Result     byte
	AckCode    uint32
	EstTimeout uint32
}

func (MessageSent) Code() byte { return RespMessageSent }

// ContactMessage is an inbound direct text message.
type ContactMessage struct {
	SenderPrefix [KeyPrefixLen]byte
	PathLen      byte
	TxtType      byte
	Timestamp    uint32
	Text         string
}

func (ContactMessage) Code() byte { return RespContactMsgRecv }

// ChannelMessage is an inbound channel (group) text message.
type ChannelMessage struct {
	Channel   byte
	PathLen   byte
	TxtType   byte
	Timestamp uint32
	Text      string
}

func (ChannelMessage) Code() byte { return RespChannelMsgRecv }

// CurrTime carries the radio's clock.
type CurrTime struct {
	Timestamp uint32
}

func (CurrTime) Code() byte { return RespCurrTime }

// NoMoreMessages ends a SyncNextMessage drain.
type NoMoreMessages struct{}

func (NoMoreMessages) Code() byte { return RespNoMoreMessages }

// BatteryStatus carries the battery voltage in millivolts.
type BatteryStatus struct {
	Millivolts uint16
}

func (BatteryStatus) Code() byte { return RespBattery }

// DeviceInfo describes the firmware and hardware in answer to DeviceQuery.
type DeviceInfo struct {
	FirmwareVer   byte
	MaxContacts   int
	MaxChannels   int
	FirmwareBuild string
	Model         string
	Version       string
}

func (DeviceInfo) Code() byte { return RespDeviceInfo }

// ChannelInfo is one channel slot's configuration.
type ChannelInfo struct {
	Index  byte
	Name   string
	Secret []byte
}

func (ChannelInfo) Code() byte { return RespChannelInfo }

// Advert is an unsolicited advertisement from another node.
type Advert struct {
	PublicKey [PublicKeyLen]byte
}

func (Advert) Code() byte { return PushAdvert }

// PathUpdated signals that the routed path to a contact changed.
type PathUpdated struct {
	KeyPrefix [KeyPrefixLen]byte
}

func (PathUpdated) Code() byte { return PushPathUpdated }

// DeliveryConfirmed is the end-to-end acknowledgement for a message the
// radio previously answered with MessageSent.
type DeliveryConfirmed struct {
	AckCode     uint32
	RoundTripMs uint32
}

func (DeliveryConfirmed) Code() byte { return PushSendConfirmed }

// MessagesWaiting tells the client to drain queued messages with
// SyncNextMessage.
type MessagesWaiting struct{}

func (MessagesWaiting) Code() byte { return PushMsgWaiting }

// StatusResponse is a remote node's telemetry/status answer.
type StatusResponse struct {
	SenderPrefix [KeyPrefixLen]byte
	Data         []byte
}

func (StatusResponse) Code() byte { return PushStatusResponse }

// Telemetry is a remote node's sensor payload (Cayenne LPP encoded).
type Telemetry struct {
	SenderPrefix [KeyPrefixLen]byte
	LPP          []byte
}

func (Telemetry) Code() byte { return PushTelemetry }

// LogRxData is a raw received-packet log entry with radio quality metrics.
type LogRxData struct {
	SNR     float32
	RSSI    int8
	Payload []byte
}

func (LogRxData) Code() byte { return PushLogRxData }

// Unknown wraps any frame whose code this client does not recognize.
type Unknown struct {
	RawCode byte
	Payload []byte
}

func (u Unknown) Code() byte { return u.RawCode }
