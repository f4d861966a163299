package protocol

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// channelSecretInfo is the fixed HKDF info string the companion firmware
// uses for passphrase-derived channel secrets.
const channelSecretInfo = "meshlink-channel-v1"

// DeriveChannelSecret derives the 16-byte channel secret from a passphrase
// using HKDF-SHA256 with a fixed info string and no salt. The derivation is
// one-way and deterministic: the same passphrase always yields the same
// secret, so two nodes configured with the same passphrase share a channel.
func DeriveChannelSecret(passphrase string) []byte {
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(channelSecretInfo))
	secret := make([]byte, ChannelSecretLen)
	if _, err := io.ReadFull(r, secret); err != nil {
		// hkdf only errors once the output limit (255*32 bytes) is
		// exceeded, which 16 bytes never reaches.
		panic("protocol: hkdf: " + err.Error())
	}
	return secret
}
