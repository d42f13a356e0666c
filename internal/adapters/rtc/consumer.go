package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Live/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrConsumerGone = errors.New("consumer no longer attached to a producer")

type Consumer struct {
	id       string
	producer string
	kind     domain.MediaKind
	router   *Router
	sender   *webrtc.RTPSender
	params   domain.ConsumerParams

	closeOnce sync.Once
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producer }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) Params() domain.ConsumerParams { return c.params }

// Resume starts forwarding media to the viewer.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.router.relays.ResumeSubscriber(c.producer, c.id) {
		return ErrConsumerGone
	}
	log.Info().Str("module", "rtc").Str("consumer", c.id).Msg("consumer resumed")
	return nil
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.router.relays.MarkSubscriberDelete(c.producer, c.id)
		if err := c.sender.Stop(); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("consumer", c.id).Msg("sender stop")
		}
		log.Info().Str("module", "rtc").Str("consumer", c.id).Msg("consumer closed")
	})
}
