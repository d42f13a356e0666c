package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Live/internal/app/sfu"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrRouterClosed     = errors.New("router closed")
	ErrUnsupportedCodec = errors.New("codec not supported by router")
	ErrGatherTimeout    = errors.New("ice gathering timed out")
)

type Router struct {
	id     string
	api    *webrtc.API
	cfg    Config
	caps   domain.RTPCapabilities
	relays *sfu.RelayManager

	mu         sync.RWMutex
	closed     bool
	producers  map[string]domain.RTPCodec
	transports map[string]*Transport

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() domain.RTPCapabilities { return r.caps }

// CreateTransport gathers local ICE candidates and prepares a DTLS transport.
func (r *Router) CreateTransport(ctx context.Context) (core.Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRouterClosed
	}

	servers := make([]webrtc.ICEServer, 0, len(r.cfg.ICEServers))
	for _, u := range r.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	gatherCtx, cancel := context.WithTimeout(ctx, r.cfg.GatherTimeout)
	defer cancel()
	select {
	case <-done:
	case <-gatherCtx.Done():
		_ = gatherer.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrGatherTimeout
	}

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	t := &Transport{
		id:        uuid.NewString(),
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		connected: make(chan struct{}),
	}
	t.params = domain.TransportParams{
		ID:             t.id,
		ICEParameters:  fromICEParameters(iceParams),
		ICECandidates:  fromICECandidates(candidates),
		DTLSParameters: fromDTLSParameters(dtlsParams),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, ErrRouterClosed
	}
	if r.transports == nil {
		r.transports = make(map[string]*Transport)
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Info().Str("module", "rtc").Str("router", r.id).Str("transport", t.id).Int("candidates", len(candidates)).Msg("transport created")
	return t, nil
}

// CanConsume reports whether caps can receive producerID.
func (r *Router) CanConsume(producerID string, caps domain.RTPCapabilities) bool {
	r.mu.RLock()
	codec, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	_, ok = caps.Find(codec)
	return ok
}

func (r *Router) producerCodec(producerID string) (domain.RTPCodec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.producers[producerID]
	return c, ok
}

func (r *Router) addProducer(id string, codec domain.RTPCodec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	r.producers[id] = codec
	return nil
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
	r.relays.StopRelay(id)
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close stops every relay and transport of the router.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := r.transports
	r.transports = nil
	r.producers = make(map[string]domain.RTPCodec)
	r.mu.Unlock()

	r.cancel()
	r.relays.StopAll()
	for _, t := range transports {
		t.Close()
	}
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
}
