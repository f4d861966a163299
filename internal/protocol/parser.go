package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyFrame is returned for zero-length frames.
var ErrEmptyFrame = errors.New("protocol: empty frame")

// Decode parses one inbound frame into a typed event. Unrecognized codes
// yield an Unknown event rather than an error so firmware additions never
// break the client. A non-nil error means the frame claimed a known code
// but its payload was malformed; callers drop and log such frames.
func Decode(frame []byte) (Event, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	code, payload := frame[0], frame[1:]

	switch code {
	case RespOk:
		return Ok{}, nil

	case RespErr:
		var e ErrResponse
		if len(payload) >= 1 {
			e.ErrCode = payload[0]
		}
		return e, nil

	case RespContactsStart:
		if len(payload) < 4 {
			return nil, truncated(code, len(frame))
		}
		return ContactsStart{Count: binary.LittleEndian.Uint32(payload)}, nil

	case RespContact:
		return decodeContact(payload)

	case RespEndOfContacts:
		return EndOfContacts{}, nil

	case RespSelfInfo:
		return decodeSelfInfo(payload)

	case RespMessageSent:
		if len(payload) < 9 {
			return nil, truncated(code, len(frame))
		}
		return MessageSent{
			Result:     payload[0],
			AckCode:    binary.LittleEndian.Uint32(payload[1:5]),
			EstTimeout: binary.LittleEndian.Uint32(payload[5:9]),
		}, nil

	case RespContactMsgRecv:
		if len(payload) < KeyPrefixLen+6 {
			return nil, truncated(code, len(frame))
		}
		var m ContactMessage
		copy(m.SenderPrefix[:], payload[:KeyPrefixLen])
		m.PathLen = payload[6]
		m.TxtType = payload[7]
		m.Timestamp = binary.LittleEndian.Uint32(payload[8:12])
		m.Text = string(payload[12:])
		return m, nil

	case RespChannelMsgRecv:
		if len(payload) < 7 {
			return nil, truncated(code, len(frame))
		}
		return ChannelMessage{
			Channel:   payload[0],
			PathLen:   payload[1],
			TxtType:   payload[2],
			Timestamp: binary.LittleEndian.Uint32(payload[3:7]),
			Text:      string(payload[7:]),
		}, nil

	case RespCurrTime:
		if len(payload) < 4 {
			return nil, truncated(code, len(frame))
		}
		return CurrTime{Timestamp: binary.LittleEndian.Uint32(payload)}, nil

	case RespNoMoreMessages:
		return NoMoreMessages{}, nil

	case RespBattery:
		if len(payload) < 2 {
			return nil, truncated(code, len(frame))
		}
		return BatteryStatus{Millivolts: binary.LittleEndian.Uint16(payload)}, nil

	case RespDeviceInfo:
		return decodeDeviceInfo(payload)

	case RespChannelInfo:
		return decodeChannelInfo(payload)

	case PushAdvert:
		if len(payload) < PublicKeyLen {
			return nil, truncated(code, len(frame))
		}
		var a Advert
		copy(a.PublicKey[:], payload[:PublicKeyLen])
		return a, nil

	case PushPathUpdated:
		if len(payload) < KeyPrefixLen {
			return nil, truncated(code, len(frame))
		}
		var p PathUpdated
		copy(p.KeyPrefix[:], payload[:KeyPrefixLen])
		return p, nil

	case PushSendConfirmed:
		if len(payload) < 8 {
			return nil, truncated(code, len(frame))
		}
		return DeliveryConfirmed{
			AckCode:     binary.LittleEndian.Uint32(payload[:4]),
			RoundTripMs: binary.LittleEndian.Uint32(payload[4:8]),
		}, nil

	case PushMsgWaiting:
		return MessagesWaiting{}, nil

	case PushStatusResponse:
		if len(payload) < 1+KeyPrefixLen {
			return nil, truncated(code, len(frame))
		}
		var s StatusResponse
		copy(s.SenderPrefix[:], payload[1:1+KeyPrefixLen])
		s.Data = append([]byte(nil), payload[1+KeyPrefixLen:]...)
		return s, nil

	case PushTelemetry:
		if len(payload) < 1+KeyPrefixLen {
			return nil, truncated(code, len(frame))
		}
		var t Telemetry
		copy(t.SenderPrefix[:], payload[1:1+KeyPrefixLen])
		t.LPP = append([]byte(nil), payload[1+KeyPrefixLen:]...)
		return t, nil

	case PushLogRxData:
		if len(payload) < 2 {
			return nil, truncated(code, len(frame))
		}
		return LogRxData{
			SNR:     float32(int8(payload[0])) / 4,
			RSSI:    int8(payload[1]),
			Payload: append([]byte(nil), payload[2:]...),
		}, nil

	default:
		return Unknown{RawCode: code, Payload: append([]byte(nil), payload...)}, nil
	}
}

func truncated(code byte, n int) error {
	return fmt.Errorf("protocol: frame 0x%02x truncated at %d bytes", code, n)
}

// cstring trims a fixed-width, null-padded firmware string field.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

const contactRecordLen = PublicKeyLen + 3 + MaxPathLen + AdvNameLen + 16

func decodeContact(payload []byte) (Event, error) {
	if len(payload) < contactRecordLen {
		return nil, truncated(RespContact, len(payload)+1)
	}
	var c Contact
	copy(c.PublicKey[:], payload[:PublicKeyLen])
	off := PublicKeyLen
	c.Type = ContactType(payload[off])
	c.Flags = payload[off+1]
	c.OutPathLen = int8(payload[off+2])
	off += 3
	if n := int(c.OutPathLen); n > 0 && n <= MaxPathLen {
		c.OutPath = append([]byte(nil), payload[off:off+n]...)
	}
	off += MaxPathLen
	c.Name = cstring(payload[off : off+AdvNameLen])
	off += AdvNameLen
	c.LastAdvert = time.Unix(int64(binary.LittleEndian.Uint32(payload[off:])), 0)
	c.Latitude = microdeg(payload[off+4:])
	c.Longitude = microdeg(payload[off+8:])
	c.LastMod = time.Unix(int64(binary.LittleEndian.Uint32(payload[off+12:])), 0)
	return c, nil
}

func microdeg(b []byte) float64 {
	return float64(int32(binary.LittleEndian.Uint32(b))) / 1e6
}

func decodeSelfInfo(payload []byte) (Event, error) {
	if len(payload) < 56 {
		return nil, truncated(RespSelfInfo, len(payload)+1)
	}
	var s SelfInfo
	s.TxPower = payload[0]
	s.MaxTxPower = payload[1]
	copy(s.PublicKey[:], payload[2:2+PublicKeyLen])
	s.Latitude = microdeg(payload[34:])
	s.Longitude = microdeg(payload[38:])
	// payload[42:45] reserved
	s.ManualAddContacts = payload[45] != 0
	s.RadioFreqKHz = binary.LittleEndian.Uint32(payload[46:])
	s.RadioBwKHz = binary.LittleEndian.Uint32(payload[50:])
	s.RadioSF = payload[54]
	s.RadioCR = payload[55]
	s.Name = cstring(payload[56:])
	return s, nil
}

func decodeDeviceInfo(payload []byte) (Event, error) {
	if len(payload) < 1 {
		return nil, truncated(RespDeviceInfo, len(payload)+1)
	}
	var d DeviceInfo
	d.FirmwareVer = payload[0]
	if len(payload) >= 2 {
		d.MaxContacts = int(payload[1]) * 2
	}
	if len(payload) >= 3 {
		d.MaxChannels = int(payload[2])
	}
	// Older firmware stops here; the extended layout carries build, model
	// and version strings after 4 reserved bytes.
	if len(payload) < 59 {
		return d, nil
	}
	d.FirmwareBuild = cstring(payload[7:19])
	d.Model = cstring(payload[19:59])
	d.Version = cstring(payload[59:])
	return d, nil
}

func decodeChannelInfo(payload []byte) (Event, error) {
	if len(payload) < 1+ChannelNameLen {
		return nil, truncated(RespChannelInfo, len(payload)+1)
	}
	ch := ChannelInfo{
		Index: payload[0],
		Name:  cstring(payload[1 : 1+ChannelNameLen]),
	}
	if len(payload) >= 1+ChannelNameLen+ChannelSecretLen {
		ch.Secret = append([]byte(nil), payload[1+ChannelNameLen:1+ChannelNameLen+ChannelSecretLen]...)
	}
	return ch, nil
}
