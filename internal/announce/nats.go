// Package announce publishes evidence additions to NATS so downstream
// tooling (timeline builders, alerting) can follow an investigation live.
package announce

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/logging"
	"github.com/harrowsec/ghtrail/internal/store"
)

// SubjectPrefix is the root of the evidence subject hierarchy. Items are
// published to evidence.added.<kind>.
const SubjectPrefix = "evidence.added"

// Publisher announces stored evidence on a NATS connection.
type Publisher struct {
	conn *nats.Conn
	log  *logging.Logger
}

// Connect dials NATS and returns a Publisher.
func Connect(url string, log *logging.Logger) (*Publisher, error) {
	if log == nil {
		log = logging.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("ghtrail"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: conn, log: log}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("nats drain failed", "error", err)
	}
}

// Publish announces one evidence item.
func (p *Publisher) Publish(ev evidence.Evidence) error {
	data, err := evidence.Marshal(ev)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, ev.Kind())
	return p.conn.Publish(subject, data)
}

// AttachTo announces everything subsequently added to s. Publish failures
// are logged, not propagated: losing an announcement must not lose the
// evidence.
func (p *Publisher) AttachTo(s *store.Store) {
	s.OnAdd(func(ev evidence.Evidence) {
		if err := p.Publish(ev); err != nil {
			p.log.Warn("failed to announce evidence",
				"evidence_id", ev.ID(), "kind", ev.Kind(), "error", err)
		}
	})
}
