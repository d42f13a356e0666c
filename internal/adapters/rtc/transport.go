package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrTransportClosed   = errors.New("transport closed")
	ErrAlreadyConnected  = errors.New("transport already connected")
	ErrProducerNotRouted = errors.New("producer does not belong to this router")
)

type Transport struct {
	id       string
	router   *Router
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   domain.TransportParams

	connectOnce sync.Once
	connected   chan struct{}
	connErr     error

	mu     sync.Mutex
	closed bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() domain.TransportParams { return t.params }

// Connect hands the remote parameters to ICE and DTLS. The handshake runs in
// the background because the client only starts its checks once this call is
// acknowledged; Produce waits for it to finish.
func (t *Transport) Connect(ctx context.Context, remote domain.ConnectParams) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	candidates, err := toICECandidates(remote.ICECandidates)
	if err != nil {
		return err
	}
	dtlsParams := toDTLSParameters(remote.DTLSParameters)

	started := false
	t.connectOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyConnected
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		t.finishConnect(err)
		return err
	}

	logger := log.With().Str("module", "rtc").Str("transport", t.id).Logger()
	go func() {
		role := webrtc.ICERoleControlled
		iceParams := webrtc.ICEParameters{
			UsernameFragment: remote.ICEParameters.UsernameFragment,
			Password:         remote.ICEParameters.Password,
			ICELite:          remote.ICEParameters.ICELite,
		}
		if err := t.ice.Start(nil, iceParams, &role); err != nil {
			logger.Warn().Err(err).Msg("ice start failed")
			t.finishConnect(err)
			return
		}
		if err := t.dtls.Start(dtlsParams); err != nil {
			logger.Warn().Err(err).Msg("dtls start failed")
			t.finishConnect(err)
			return
		}
		logger.Info().Msg("transport connected")
		t.finishConnect(nil)
	}()

	return ctx.Err()
}

func (t *Transport) finishConnect(err error) {
	t.mu.Lock()
	t.connErr = err
	t.mu.Unlock()
	close(t.connected)
}

func (t *Transport) waitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.connErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Produce starts receiving the client's stream and relays it to consumers.
func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (core.Producer, error) {
	if err := params.Validate(kind); err != nil {
		return nil, err
	}
	codec, ok := t.router.caps.Find(params.Codecs[0])
	if !ok {
		return nil, ErrUnsupportedCodec
	}
	typ, _ := codecType(kind)

	if err := t.waitConnected(ctx); err != nil {
		return nil, fmt.Errorf("transport not connected: %w", err)
	}
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	receiver, err := t.router.api.NewRTPReceiver(typ, t.dtls)
	if err != nil {
		return nil, err
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(params.Encodings[0].SSRC),
				PayloadType: webrtc.PayloadType(params.Codecs[0].PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}

	p := &Producer{
		id:       uuid.NewString(),
		kind:     kind,
		codec:    codec,
		router:   t.router,
		receiver: receiver,
	}
	if err := t.router.addProducer(p.id, codec); err != nil {
		_ = receiver.Stop()
		return nil, err
	}
	t.router.relays.StartRelay(t.router.ctx, p.id, receiver.Track())

	log.Info().Str("module", "rtc").Str("transport", t.id).Str("producer", p.id).Str("kind", string(kind)).Msg("producer created")
	return p, nil
}

// Consume creates a paused sender of producer towards this transport.
func (t *Transport) Consume(ctx context.Context, producer core.Producer, caps domain.RTPCapabilities) (core.Consumer, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}
	codec, ok := t.router.producerCodec(producer.ID())
	if !ok {
		return nil, ErrProducerNotRouted
	}
	if _, ok := caps.Find(codec); !ok {
		return nil, ErrUnsupportedCodec
	}

	consumerID := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(capability(codec), string(producer.Kind()), producer.ID())
	if err != nil {
		return nil, err
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		_ = sender.Stop()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = sender.Stop()
		return nil, err
	}

	var ssrc uint32
	if len(sendParams.Encodings) > 0 {
		ssrc = uint32(sendParams.Encodings[0].SSRC)
	}

	if _, ok := t.router.relays.AddSubscriber(producer.ID(), consumerID, track); !ok {
		_ = sender.Stop()
		return nil, ErrProducerNotRouted
	}

	// RTCP from the viewer has to be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &Consumer{
		id:       consumerID,
		producer: producer.ID(),
		kind:     producer.Kind(),
		router:   t.router,
		sender:   sender,
		params: domain.ConsumerParams{
			ID:         consumerID,
			ProducerID: producer.ID(),
			Kind:       producer.Kind(),
			RTPParameters: domain.RTPParameters{
				MID: string(producer.Kind()),
				Codecs: []domain.RTPCodec{{
					Kind:        codec.Kind,
					MimeType:    codec.MimeType,
					PayloadType: codec.PreferredPayloadType,
					ClockRate:   codec.ClockRate,
					Channels:    codec.Channels,
					SDPFmtpLine: codec.SDPFmtpLine,
				}},
				Encodings: []domain.RTPEncoding{{SSRC: ssrc}},
			},
		},
	}
	log.Info().Str("module", "rtc").Str("transport", t.id).Str("consumer", c.id).Str("producer", c.producer).Msg("consumer created")
	return c, nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.connectOnce.Do(func() { t.finishConnect(ErrTransportClosed) })

	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", t.id).Msg("gatherer close")
	}
	t.router.removeTransport(t.id)
	log.Info().Str("module", "rtc").Str("transport", t.id).Msg("transport closed")
}
