package domain

import (
	"errors"
	"strings"
)

// MediaKind is the kind of a broadcast stream.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

var (
	ErrUnknownKind       = errors.New("unknown media kind")
	ErrMissingCodec      = errors.New("rtp parameters carry no codec")
	ErrMissingEncoding   = errors.New("rtp parameters carry no encoding")
	ErrCodecKindMismatch = errors.New("codec kind does not match media kind")
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// RTPCodec describes one codec either as a capability (PreferredPayloadType)
// or as a negotiated parameter (PayloadType).
type RTPCodec struct {
	Kind                 MediaKind `json:"kind,omitempty"`
	MimeType             string    `json:"mimeType"`
	PreferredPayloadType uint8     `json:"preferredPayloadType,omitempty"`
	PayloadType          uint8     `json:"payloadType,omitempty"`
	ClockRate            uint32    `json:"clockRate"`
	Channels             uint16    `json:"channels,omitempty"`
	SDPFmtpLine          string    `json:"sdpFmtpLine,omitempty"`
}

// Matches compares mime type, clock rate and, for audio, channel count.
func (c RTPCodec) Matches(other RTPCodec) bool {
	if !strings.EqualFold(c.MimeType, other.MimeType) || c.ClockRate != other.ClockRate {
		return false
	}
	if strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
		return channelsOrOne(c.Channels) == channelsOrOne(other.Channels)
	}
	return true
}

func channelsOrOne(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

// RTPCapabilities is what a router offers or what a viewer can receive.
type RTPCapabilities struct {
	Codecs []RTPCodec `json:"codecs"`
}

// Find returns the first capability codec matching c.
func (rc RTPCapabilities) Find(c RTPCodec) (RTPCodec, bool) {
	for _, have := range rc.Codecs {
		if have.Matches(c) {
			return have, true
		}
	}
	return RTPCodec{}, false
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

// RTPParameters describe a stream sent by the broadcaster or received by a viewer.
type RTPParameters struct {
	MID       string        `json:"mid,omitempty"`
	Codecs    []RTPCodec    `json:"codecs"`
	Encodings []RTPEncoding `json:"encodings"`
}

// Validate checks the parameters carry what a producer needs for kind.
func (p RTPParameters) Validate(kind MediaKind) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if len(p.Codecs) == 0 {
		return ErrMissingCodec
	}
	if len(p.Encodings) == 0 {
		return ErrMissingEncoding
	}
	prefix := string(kind) + "/"
	if !strings.HasPrefix(strings.ToLower(p.Codecs[0].MimeType), prefix) {
		return ErrCodecKindMismatch
	}
	return nil
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParams is handed to a client so it can reach a server-side transport.
type TransportParams struct {
	ID             string         `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams carry the remote side of a transport handshake.
type ConnectParams struct {
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

// ConsumerParams is what a viewer needs to receive one consumer.
type ConsumerParams struct {
	ID            string        `json:"id"`
	ProducerID    string        `json:"producerId"`
	Kind          MediaKind     `json:"kind"`
	RTPParameters RTPParameters `json:"rtpParameters"`
}

// DefaultCodecs is the codec set every broadcast router is created with.
func DefaultCodecs() []RTPCodec {
	return []RTPCodec{
		{
			Kind:                 KindAudio,
			MimeType:             "audio/opus",
			PreferredPayloadType: 111,
			ClockRate:            48000,
			Channels:             2,
			SDPFmtpLine:          "minptime=10;useinbandfec=1",
		},
		{
			Kind:                 KindVideo,
			MimeType:             "video/VP8",
			PreferredPayloadType: 96,
			ClockRate:            90000,
		},
	}
}
