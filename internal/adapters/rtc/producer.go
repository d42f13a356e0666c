package rtc

import (
	"sync"

	"github.com/dkeye/Live/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Producer struct {
	id       string
	kind     domain.MediaKind
	codec    domain.RTPCodec
	router   *Router
	receiver *webrtc.RTPReceiver

	closeOnce sync.Once
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		p.router.removeProducer(p.id)
		if err := p.receiver.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("producer", p.id).Msg("receiver stop")
		}
		log.Info().Str("module", "rtc").Str("producer", p.id).Msg("producer closed")
	})
}
