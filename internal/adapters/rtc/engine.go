package rtc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/Live/internal/app/sfu"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Config tunes the media engine.
type Config struct {
	ICEServers    []string
	AnnouncedIPs  []string
	UDPPortMin    uint16
	UDPPortMax    uint16
	GatherTimeout time.Duration
	// Loopback gathers only UDP4 candidates on loopback addresses.
	Loopback bool
}

func DefaultConfig() Config {
	return Config{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
	}
}

// Engine is a core.MediaEngine on top of pion's ORTC objects. Every router
// gets its own webrtc.API so that codec tables never leak between rooms.
type Engine struct {
	cfg Config
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config) *Engine {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultConfig().GatherTimeout
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := &webrtc.MediaEngine{}
	caps := make([]domain.RTPCodec, 0, len(codecs))
	for _, c := range codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("codec %s: %w", c.MimeType, err)
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: capability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := m.RegisterCodec(params, typ); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
		caps = append(caps, c)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if e.cfg.UDPPortMin > 0 && e.cfg.UDPPortMax >= e.cfg.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(e.cfg.UDPPortMin, e.cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if e.cfg.Loopback {
		loopbackOnly(&se)
	}
	if len(e.cfg.AnnouncedIPs) > 0 {
		se.SetNAT1To1IPs(e.cfg.AnnouncedIPs, webrtc.ICECandidateTypeHost)
	}

	routerCtx, cancel := context.WithCancel(context.Background())
	r := &Router{
		id:        uuid.NewString(),
		api:       webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)),
		cfg:       e.cfg,
		caps:      domain.RTPCapabilities{Codecs: caps},
		relays:    sfu.NewRelayManager(),
		producers: make(map[string]domain.RTPCodec),
		ctx:       routerCtx,
		cancel:    cancel,
	}
	log.Info().Str("module", "rtc").Str("router", r.id).Int("codecs", len(caps)).Msg("router created")
	return r, nil
}

func codecType(kind domain.MediaKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, domain.ErrUnknownKind
}

func capability(c domain.RTPCodec) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		Channels:    c.Channels,
		SDPFmtpLine: c.SDPFmtpLine,
	}
}

func loopbackOnly(se *webrtc.SettingEngine) {
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	se.SetIPFilter(func(ip net.IP) bool { return ip.IsLoopback() })
}
