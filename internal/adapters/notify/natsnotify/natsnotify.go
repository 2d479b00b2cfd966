// Package natsnotify publishes terminal job snapshots to a NATS subject.
package natsnotify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	v1 "mediarender/internal/contracts/render/v1"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/pkg/logger"
)

// Subject used when none is configured.
const DefaultSubject = "render.jobs.completed"

// conn is the part of *nats.Conn the notifier uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Notifier implements ports.Notifier.
type Notifier struct {
	nc      conn
	subject string
	log     *logger.Logger
}

// Connect dials url and keeps reconnecting in the background if the
// server goes away.
func Connect(url, subject string, log *logger.Logger) (*Notifier, error) {
	log = logger.OrDiscard(log).WithComponent("natsnotify")
	nc, err := nats.Connect(url,
		nats.Name("renderd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "natsnotify.connect", "connect to nats")
	}
	return newNotifier(nc, subject, log), nil
}

func newNotifier(nc conn, subject string, log *logger.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Notifier{nc: nc, subject: subject, log: logger.OrDiscard(log)}
}

// Event is the message body.
type Event struct {
	JobID  string       `json:"job_id"`
	Status v1.JobStatus `json:"status"`
	Job    v1.Job       `json:"job"`
}

func (n *Notifier) Notify(_ context.Context, job v1.Job) error {
	data, err := json.Marshal(Event{JobID: job.ID, Status: job.Status, Job: job})
	if err != nil {
		return errors.Wrap(err, "natsnotify.notify", "encode event")
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "natsnotify.notify", "publish event")
	}
	n.log.Debug("job event published", "job_id", job.ID, "subject", n.subject)
	return nil
}

// Close flushes pending messages before disconnecting.
func (n *Notifier) Close() error {
	return n.nc.Drain()
}
