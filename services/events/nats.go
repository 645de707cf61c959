package eventsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// NatsPublisher publishes JSON events on "<prefix>.<subject>".
type NatsPublisher struct {
	conn   *nats.Conn
	prefix string
}

var _ core.EventPublisher = (*NatsPublisher)(nil)

// Connect returns a NATS publisher, or a no-op one when no server is configured.
func Connect(conf *core.Config, logger core.Logger) (core.EventPublisher, func(), error) {
	if conf.Nats.URL == "" {
		return core.NewNopPublisher(), func() {}, nil
	}

	conn, err := nats.Connect(conf.Nats.URL,
		nats.Name(conf.AppName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected to " + c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connecting to nats")
	}
	closeFn := func() {
		if err := conn.Drain(); err != nil {
			logger.Error("draining nats connection", err)
		}
	}
	return &NatsPublisher{conn: conn, prefix: conf.Nats.SubjectPrefix}, closeFn, nil
}

func (p *NatsPublisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *NatsPublisher) Publish(ctx context.Context, subject string, event interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	if err = p.conn.Publish(p.subject(subject), data); err != nil {
		return errors.Wrapf(err, "publishing %s", subject)
	}
	return nil
}
