package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cpatterson/meshlink/internal/protocol"
)

// matchCode matches any event with one of the given wire codes.
func matchCode(codes ...byte) func(protocol.Event) bool {
	return func(ev protocol.Event) bool {
		for _, c := range codes {
			if ev.Code() == c {
				return true
			}
		}
		return false
	}
}

// requestOk issues a frame whose only success response is the generic Ok.
func (s *Session) requestOk(ctx context.Context, frame []byte) error {
	_, err := s.request(ctx, frame, s.opts.RequestTimeout, matchCode(protocol.RespOk))
	return err
}

// Battery reads the radio's battery voltage.
func (s *Session) Battery(ctx context.Context) (protocol.BatteryStatus, error) {
	ev, err := s.request(ctx, protocol.GetBattery(), s.opts.RequestTimeout, matchCode(protocol.RespBattery))
	if err != nil {
		return protocol.BatteryStatus{}, err
	}
	return ev.(protocol.BatteryStatus), nil
}

// DeviceQuery reads firmware and hardware details.
func (s *Session) DeviceQuery(ctx context.Context) (protocol.DeviceInfo, error) {
	ev, err := s.request(ctx, protocol.DeviceQuery(protocol.AppVersion), s.opts.RequestTimeout, matchCode(protocol.RespDeviceInfo))
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	return ev.(protocol.DeviceInfo), nil
}

// DeviceTime reads the radio's clock.
func (s *Session) DeviceTime(ctx context.Context) (time.Time, error) {
	ev, err := s.request(ctx, protocol.GetDeviceTime(), s.opts.RequestTimeout, matchCode(protocol.RespCurrTime))
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ev.(protocol.CurrTime).Timestamp), 0), nil
}

// SetDeviceTime sets the radio's clock.
func (s *Session) SetDeviceTime(ctx context.Context, t time.Time) error {
	return s.requestOk(ctx, protocol.SetDeviceTime(uint32(t.Unix())))
}

// Contacts syncs the radio's contact list. since limits the sync to
// contacts modified after the given time; the zero time means everything.
func (s *Session) Contacts(ctx context.Context, since time.Time) ([]protocol.Contact, error) {
	var sinceEpoch uint32
	if !since.IsZero() {
		sinceEpoch = uint32(since.Unix())
	}

	var contacts []protocol.Contact
	err := s.requestStream(ctx, protocol.GetContacts(sinceEpoch), s.opts.SyncTimeout, func(ev protocol.Event) (bool, bool, error) {
		switch e := ev.(type) {
		case protocol.ContactsStart:
			contacts = make([]protocol.Contact, 0, e.Count)
			return true, false, nil
		case protocol.Contact:
			contacts = append(contacts, e)
			return true, false, nil
		case protocol.EndOfContacts:
			return true, true, nil
		default:
			return false, false, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("syncing contacts: %w", err)
	}
	return contacts, nil
}

// Channel reads one channel slot's configuration.
func (s *Session) Channel(ctx context.Context, index byte) (protocol.ChannelInfo, error) {
	ev, err := s.request(ctx, protocol.GetChannel(index), s.opts.RequestTimeout, matchCode(protocol.RespChannelInfo))
	if err != nil {
		return protocol.ChannelInfo{}, err
	}
	return ev.(protocol.ChannelInfo), nil
}

// SetChannel configures one channel slot with a name and 16-byte secret.
func (s *Session) SetChannel(ctx context.Context, index byte, name string, secret []byte) error {
	return s.requestOk(ctx, protocol.SetChannel(index, name, secret))
}

// SendAdvert triggers a self-advertisement of the given kind.
func (s *Session) SendAdvert(ctx context.Context, kind protocol.AdvertKind) error {
	return s.requestOk(ctx, protocol.SendSelfAdvert(kind))
}

// SetAdvertName sets the name this node advertises.
func (s *Session) SetAdvertName(ctx context.Context, name string) error {
	return s.requestOk(ctx, protocol.SetAdvertName(name))
}

// SetAdvertLatLon sets the advertised position in microdegrees.
func (s *Session) SetAdvertLatLon(ctx context.Context, latMicro, lonMicro int32) error {
	return s.requestOk(ctx, protocol.SetAdvertLatLon(latMicro, lonMicro))
}

// SetRadioParams reconfigures the LoRa radio.
func (s *Session) SetRadioParams(ctx context.Context, freqKHz, bwKHz uint32, sf, cr byte) error {
	return s.requestOk(ctx, protocol.SetRadioParams(freqKHz, bwKHz, sf, cr))
}

// SetTelemetryModes configures which telemetry groups the node answers for.
func (s *Session) SetTelemetryModes(ctx context.Context, modes protocol.TelemetryModes) error {
	return s.requestOk(ctx, protocol.SetTelemetryModes(modes))
}

// ResetPath drops the routed path to a contact so the next send floods and
// rediscovers a route.
func (s *Session) ResetPath(ctx context.Context, dest [protocol.KeyPrefixLen]byte) error {
	return s.requestOk(ctx, protocol.ResetPath(dest))
}

// StatusRequest asks a remote node for its status. The answer arrives later
// as an unsolicited StatusResponse push.
func (s *Session) StatusRequest(ctx context.Context, dest [protocol.KeyPrefixLen]byte) error {
	_, err := s.request(ctx, protocol.SendStatusReq(dest), s.opts.RequestTimeout,
		matchCode(protocol.RespOk, protocol.RespMessageSent))
	return err
}

// SendMessage hands a direct text message to the radio. The returned
// MessageSent carries the ack code that correlates the eventual
// DeliveryConfirmed push and the firmware's round-trip estimate.
func (s *Session) SendMessage(ctx context.Context, dest [protocol.KeyPrefixLen]byte, attempt byte, text string) (protocol.MessageSent, error) {
	frame := protocol.SendTxtMsg(dest, attempt, uint32(time.Now().Unix()), text)
	ev, err := s.request(ctx, frame, s.opts.RequestTimeout, matchCode(protocol.RespMessageSent))
	if err != nil {
		return protocol.MessageSent{}, err
	}
	return ev.(protocol.MessageSent), nil
}

// SendChannelMessage hands a channel text message to the radio. Channel
// sends are fire-and-forget; there is no end-to-end acknowledgement.
func (s *Session) SendChannelMessage(ctx context.Context, channel byte, text string) error {
	frame := protocol.SendChannelTxtMsg(channel, uint32(time.Now().Unix()), text)
	_, err := s.request(ctx, frame, s.opts.RequestTimeout,
		matchCode(protocol.RespOk, protocol.RespMessageSent))
	return err
}

// SyncNextMessage pulls the next queued inbound message. It returns nil
// when the radio's queue is empty.
func (s *Session) SyncNextMessage(ctx context.Context) (protocol.Event, error) {
	ev, err := s.request(ctx, protocol.SyncNextMessage(), s.opts.RequestTimeout,
		matchCode(protocol.RespContactMsgRecv, protocol.RespChannelMsgRecv, protocol.RespNoMoreMessages))
	if err != nil {
		return nil, err
	}
	if _, done := ev.(protocol.NoMoreMessages); done {
		return nil, nil
	}
	return ev, nil
}

// DrainWaitingMessages pulls queued inbound messages until the radio
// reports its queue empty, publishing each one to event subscribers.
// Called in response to a MessagesWaiting push.
func (s *Session) DrainWaitingMessages(ctx context.Context) (int, error) {
	n := 0
	for {
		ev, err := s.SyncNextMessage(ctx)
		if err != nil {
			return n, err
		}
		if ev == nil {
			return n, nil
		}
		s.bus.publish(ev)
		n++
	}
}
