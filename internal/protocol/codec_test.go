package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestAppStartLayout(t *testing.T) {
	frame := AppStart("meshl")
	want := []byte{0x01, 0x03, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 'm', 'e', 's', 'h', 'l'}
	if !bytes.Equal(frame, want) {
		t.Errorf("AppStart frame = %x, want %x", frame, want)
	}
}

func TestAppStartTruncatesClientID(t *testing.T) {
	frame := AppStart("toolongclientid")
	if got := string(frame[8:]); got != "toolo" {
		t.Errorf("client ID on wire = %q, want %q", got, "toolo")
	}
	if len(frame) != 13 {
		t.Errorf("frame length = %d, want 13", len(frame))
	}
}

func TestSendTxtMsgLayout(t *testing.T) {
	dest := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	frame := SendTxtMsg(dest, 2, 0x01020304, "hey")

	if frame[0] != CmdSendTxtMsg || frame[1] != 0x00 {
		t.Errorf("frame prefix = %x, want [0x02 0x00]", frame[:2])
	}
	if frame[2] != 2 {
		t.Errorf("attempt byte = %d, want 2", frame[2])
	}
	if ts := binary.LittleEndian.Uint32(frame[3:7]); ts != 0x01020304 {
		t.Errorf("timestamp = 0x%08x, want 0x01020304", ts)
	}
	if !bytes.Equal(frame[7:13], dest[:]) {
		t.Errorf("dest prefix = %x, want %x", frame[7:13], dest)
	}
	if string(frame[13:]) != "hey" {
		t.Errorf("text = %q, want %q", frame[13:], "hey")
	}
}

// A channel message "hi" on channel 0 must produce exactly
// [code, txtType=0, channel=0, LE32(ts), "hi"] and decode back to the same
// channel, text and timestamp when the radio echoes the layout inbound.
func TestChannelMessageEndToEnd(t *testing.T) {
	const ts = uint32(1700000000)
	frame := SendChannelTxtMsg(0, ts, "hi")

	want := append([]byte{CmdSendChannelTxtMsg, 0x00, 0x00}, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(want[3:], ts)
	want = append(want, "hi"...)
	if !bytes.Equal(frame, want) {
		t.Fatalf("encoded frame = %x, want %x", frame, want)
	}

	// Inbound channel messages carry the same field order after a pathLen
	// byte; build the inbound form and decode it.
	inbound := []byte{RespChannelMsgRecv, 0x00, 0x03, 0x00}
	inbound = append(inbound, frame[3:7]...)
	inbound = append(inbound, "hi"...)

	ev, err := Decode(inbound)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	msg, ok := ev.(ChannelMessage)
	if !ok {
		t.Fatalf("Decode() = %T, want ChannelMessage", ev)
	}
	if msg.Channel != 0 || msg.Text != "hi" || msg.Timestamp != ts {
		t.Errorf("decoded = {channel:%d text:%q ts:%d}, want {0 %q %d}",
			msg.Channel, msg.Text, msg.Timestamp, "hi", ts)
	}
}

func TestSetChannelLayout(t *testing.T) {
	secret := DeriveChannelSecret("hiking crew")
	frame := SetChannel(3, "hikers", secret)

	if len(frame) != 2+ChannelNameLen+ChannelSecretLen {
		t.Fatalf("frame length = %d, want %d", len(frame), 2+ChannelNameLen+ChannelSecretLen)
	}
	if frame[0] != CmdSetChannel || frame[1] != 3 {
		t.Errorf("prefix = %x, want [0x20 0x03]", frame[:2])
	}
	name := frame[2 : 2+ChannelNameLen]
	if string(name[:6]) != "hikers" {
		t.Errorf("name field = %q, want prefix %q", name[:6], "hikers")
	}
	for i := 6; i < ChannelNameLen; i++ {
		if name[i] != 0 {
			t.Errorf("name padding byte %d = 0x%02x, want 0x00", i, name[i])
		}
	}
	if !bytes.Equal(frame[2+ChannelNameLen:], secret) {
		t.Error("secret field does not match derived secret")
	}
}

func TestSetChannelTruncatesLongName(t *testing.T) {
	long := "this channel name is far longer than the thirty-two byte field"
	frame := SetChannel(0, long, make([]byte, 16))
	if len(frame) != 2+ChannelNameLen+ChannelSecretLen {
		t.Fatalf("frame length = %d, want fixed %d", len(frame), 2+ChannelNameLen+ChannelSecretLen)
	}
	if got := string(frame[2 : 2+ChannelNameLen]); got != long[:ChannelNameLen] {
		t.Errorf("name field = %q, want %q", got, long[:ChannelNameLen])
	}
}

func TestTelemetryModesBitPacking(t *testing.T) {
	modes := TelemetryModes{Environment: 3, Location: 2, Base: 1}
	packed := modes.Pack()
	if packed != 0b110101 {
		t.Fatalf("Pack() = 0b%06b, want 0b110101", packed)
	}
	if got := UnpackTelemetryModes(packed); got != modes {
		t.Errorf("UnpackTelemetryModes(0b%06b) = %+v, want %+v", packed, got, modes)
	}
}

func TestTelemetryModesRoundTrip(t *testing.T) {
	for env := TelemetryMode(0); env < 4; env++ {
		for loc := TelemetryMode(0); loc < 4; loc++ {
			for base := TelemetryMode(0); base < 4; base++ {
				m := TelemetryModes{Base: base, Location: loc, Environment: env}
				if got := UnpackTelemetryModes(m.Pack()); got != m {
					t.Fatalf("round trip %+v -> 0b%06b -> %+v", m, m.Pack(), got)
				}
			}
		}
	}
}

func TestDecodeMessageSent(t *testing.T) {
	frame := []byte{RespMessageSent, 0x00}
	frame = binary.LittleEndian.AppendUint32(frame, 0xdeadbeef)
	frame = binary.LittleEndian.AppendUint32(frame, 12000)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	sent, ok := ev.(MessageSent)
	if !ok {
		t.Fatalf("Decode() = %T, want MessageSent", ev)
	}
	if sent.AckCode != 0xdeadbeef {
		t.Errorf("AckCode = 0x%08x, want 0xdeadbeef", sent.AckCode)
	}
	if sent.EstTimeout != 12000 {
		t.Errorf("EstTimeout = %d, want 12000", sent.EstTimeout)
	}
}

func TestDecodeDeliveryConfirmed(t *testing.T) {
	frame := []byte{PushSendConfirmed}
	frame = binary.LittleEndian.AppendUint32(frame, 0xcafe0042)
	frame = binary.LittleEndian.AppendUint32(frame, 3400)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ack, ok := ev.(DeliveryConfirmed)
	if !ok {
		t.Fatalf("Decode() = %T, want DeliveryConfirmed", ev)
	}
	if ack.AckCode != 0xcafe0042 || ack.RoundTripMs != 3400 {
		t.Errorf("decoded = %+v, want ack 0xcafe0042 rtt 3400", ack)
	}
}

func TestDecodeContactMessage(t *testing.T) {
	frame := []byte{RespContactMsgRecv, 1, 2, 3, 4, 5, 6, 0x02, 0x00}
	frame = binary.LittleEndian.AppendUint32(frame, 1700000123)
	frame = append(frame, "direct hello"...)

	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	msg, ok := ev.(ContactMessage)
	if !ok {
		t.Fatalf("Decode() = %T, want ContactMessage", ev)
	}
	if msg.SenderPrefix != [6]byte{1, 2, 3, 4, 5, 6} {
		t.Errorf("SenderPrefix = %x", msg.SenderPrefix)
	}
	if msg.PathLen != 2 || msg.Timestamp != 1700000123 || msg.Text != "direct hello" {
		t.Errorf("decoded = %+v", msg)
	}
}

func TestDecodeContactRecord(t *testing.T) {
	payload := make([]byte, contactRecordLen)
	for i := 0; i < PublicKeyLen; i++ {
		payload[i] = byte(i)
	}
	payload[32] = byte(ContactTypeRepeater)
	payload[34] = 0xff // outPathLen = -1, flood
	copy(payload[99:], "north-ridge")
	binary.LittleEndian.PutUint32(payload[131:], 1700000000)
	binary.LittleEndian.PutUint32(payload[135:], uint32(int32(51500000)))  // 51.5
	negLon := int32(-100000)
	binary.LittleEndian.PutUint32(payload[139:], uint32(negLon)) // -0.1
	binary.LittleEndian.PutUint32(payload[143:], 1700000500)

	ev, err := Decode(append([]byte{RespContact}, payload...))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	c, ok := ev.(Contact)
	if !ok {
		t.Fatalf("Decode() = %T, want Contact", ev)
	}
	if c.Type != ContactTypeRepeater {
		t.Errorf("Type = %v, want repeater", c.Type)
	}
	if c.OutPathLen != FloodPath {
		t.Errorf("OutPathLen = %d, want %d (flood)", c.OutPathLen, FloodPath)
	}
	if c.Name != "north-ridge" {
		t.Errorf("Name = %q, want %q", c.Name, "north-ridge")
	}
	if c.Latitude != 51.5 || c.Longitude != -0.1 {
		t.Errorf("position = (%v, %v), want (51.5, -0.1)", c.Latitude, c.Longitude)
	}
	if c.LastMod.Unix() != 1700000500 {
		t.Errorf("LastMod = %d, want 1700000500", c.LastMod.Unix())
	}
	wantPrefix := [6]byte{0, 1, 2, 3, 4, 5}
	if c.KeyPrefix() != wantPrefix {
		t.Errorf("KeyPrefix() = %x, want %x", c.KeyPrefix(), wantPrefix)
	}
}

func TestDecodeUnknownCode(t *testing.T) {
	ev, err := Decode([]byte{0xf3, 0x01, 0x02})
	if err != nil {
		t.Fatalf("Decode() of unknown code should not error, got %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("Decode() = %T, want Unknown", ev)
	}
	if u.RawCode != 0xf3 || !bytes.Equal(u.Payload, []byte{0x01, 0x02}) {
		t.Errorf("Unknown = %+v", u)
	}
}

func TestDecodeTruncatedKnownFrame(t *testing.T) {
	if _, err := Decode([]byte{RespMessageSent, 0x00, 0x01}); err == nil {
		t.Error("Decode() of truncated MessageSent should error")
	}
	if _, err := Decode(nil); err == nil {
		t.Error("Decode(nil) should error")
	}
}

func TestDecodeSelfInfo(t *testing.T) {
	payload := make([]byte, 56)
	payload[0] = 22 // txPower
	payload[1] = 30
	for i := 0; i < PublicKeyLen; i++ {
		payload[2+i] = byte(0x80 + i)
	}
	binary.LittleEndian.PutUint32(payload[46:], 869525)
	binary.LittleEndian.PutUint32(payload[50:], 250)
	payload[54] = 11
	payload[55] = 5
	payload = append(payload, "base camp"...)

	ev, err := Decode(append([]byte{RespSelfInfo}, payload...))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	info, ok := ev.(SelfInfo)
	if !ok {
		t.Fatalf("Decode() = %T, want SelfInfo", ev)
	}
	if info.TxPower != 22 || info.RadioFreqKHz != 869525 || info.RadioSF != 11 {
		t.Errorf("decoded = %+v", info)
	}
	if info.Name != "base camp" {
		t.Errorf("Name = %q, want %q", info.Name, "base camp")
	}
}

func TestDeriveChannelSecret(t *testing.T) {
	a := DeriveChannelSecret("hiking crew")
	b := DeriveChannelSecret("hiking crew")
	c := DeriveChannelSecret("other crew")

	if len(a) != ChannelSecretLen {
		t.Fatalf("secret length = %d, want %d", len(a), ChannelSecretLen)
	}
	if !bytes.Equal(a, b) {
		t.Error("same passphrase must derive the same secret")
	}
	if bytes.Equal(a, c) {
		t.Error("different passphrases must derive different secrets")
	}
}

func TestRadioParamsLayout(t *testing.T) {
	frame := SetRadioParams(869525, 250, 11, 5)
	if len(frame) != 11 {
		t.Fatalf("frame length = %d, want 11", len(frame))
	}
	if binary.LittleEndian.Uint32(frame[1:5]) != 869525 {
		t.Errorf("freq = %d, want 869525", binary.LittleEndian.Uint32(frame[1:5]))
	}
	if frame[9] != 11 || frame[10] != 5 {
		t.Errorf("sf/cr = %d/%d, want 11/5", frame[9], frame[10])
	}
}
