package rtc

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Live/internal/domain"
	"github.com/pion/webrtc/v4"
)

func TestCreateRouter_Capabilities(t *testing.T) {
	e := NewEngine(DefaultConfig())
	r, err := e.CreateRouter(context.Background(), domain.DefaultCodecs())
	if err != nil {
		t.Fatalf("CreateRouter: %v", err)
	}
	defer r.Close()

	caps := r.Capabilities()
	if len(caps.Codecs) != len(domain.DefaultCodecs()) {
		t.Fatalf("capabilities carry %d codecs", len(caps.Codecs))
	}
	if r.ID() == "" {
		t.Error("router id must be set")
	}
	if r.CanConsume("unknown", caps) {
		t.Error("unknown producer must not be consumable")
	}
}

func TestCreateRouter_RejectsBadCodecs(t *testing.T) {
	e := NewEngine(DefaultConfig())
	_, err := e.CreateRouter(context.Background(), []domain.RTPCodec{{Kind: "screen", MimeType: "video/VP8", ClockRate: 90000}})
	if !errors.Is(err, domain.ErrUnknownKind) {
		t.Fatalf("err = %v, want %v", err, domain.ErrUnknownKind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.CreateRouter(ctx, domain.DefaultCodecs()); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx err = %v", err)
	}
}

func TestRouter_CloseIsIdempotent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	r, _ := e.CreateRouter(context.Background(), domain.DefaultCodecs())
	r.Close()
	r.Close()
	if _, err := r.CreateTransport(context.Background()); !errors.Is(err, ErrRouterClosed) {
		t.Errorf("CreateTransport after close err = %v", err)
	}
}

func TestCandidateConversion(t *testing.T) {
	in := []domain.ICECandidate{{Foundation: "1", Priority: 100, IP: "10.0.0.1", Protocol: "UDP", Port: 5000, Type: "host"}}
	out, err := toICECandidates(in)
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Protocol != webrtc.ICEProtocolUDP || out[0].Typ != webrtc.ICECandidateTypeHost || out[0].Address != "10.0.0.1" {
		t.Errorf("unexpected candidate %+v", out[0])
	}
	back := fromICECandidates(out)
	if back[0].Protocol != "udp" || back[0].Type != "host" || back[0].Port != 5000 {
		t.Errorf("round trip %+v", back[0])
	}

	if _, err := toICECandidates([]domain.ICECandidate{{Protocol: "sctp", Type: "host"}}); err == nil {
		t.Error("unknown protocol must fail")
	}
}

func TestDTLSRoleMapping(t *testing.T) {
	for name, want := range map[string]webrtc.DTLSRole{
		"client": webrtc.DTLSRoleClient,
		"SERVER": webrtc.DTLSRoleServer,
		"auto":   webrtc.DTLSRoleAuto,
		"":       webrtc.DTLSRoleAuto,
	} {
		if got := dtlsRole(name); got != want {
			t.Errorf("dtlsRole(%q) = %v, want %v", name, got, want)
		}
	}
	p := fromDTLSParameters(webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleServer,
		Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	})
	if p.Role != "server" || len(p.Fingerprints) != 1 || p.Fingerprints[0].Value != "AA:BB" {
		t.Errorf("unexpected params %+v", p)
	}
}
