package rabbitmq

import (
	"context"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"room-chat/internal/logging"
	"room-chat/internal/observability"
)

// State is the externally visible connection state.
type State string

const (
	StateDisabled     State = "disabled"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// supervisor keeps one broker channel alive: it dials, runs setup, serves
// until the channel closes, then retries after a fixed backoff until its
// context is cancelled.
type supervisor struct {
	role  string
	url   string
	dial  Dialer
	retry time.Duration
	setup func(ch Channel) error
	serve func(ctx context.Context, ch Channel, closed <-chan *amqp.Error)
	log   zerolog.Logger

	mu    sync.RWMutex
	ch    Channel
	state State
}

func newSupervisor(role, url string, dial Dialer, retry time.Duration) *supervisor {
	state := StateConnecting
	if url == "" {
		state = StateDisabled
	}
	if dial == nil {
		dial = DialAMQP
	}
	return &supervisor{
		role:  role,
		url:   url,
		dial:  dial,
		retry: retry,
		log:   logging.For("broker").With().Str("role", role).Logger(),
		state: state,
	}
}

func (s *supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *supervisor) channel() Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ch
}

func (s *supervisor) set(ch Channel, state State) {
	s.mu.Lock()
	s.ch = ch
	s.state = state
	s.mu.Unlock()
	observability.SetBrokerConnected(s.role, state == StateConnected)
}

// run blocks until ctx is cancelled. It never returns an error: every
// connection failure is logged and retried.
func (s *supervisor) run(ctx context.Context) {
	if s.url == "" {
		s.log.Warn().Msg("broker disabled: empty amqp url")
		return
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		ch, conn, err := s.connect()
		if err != nil {
			s.set(nil, StateDisconnected)
			s.log.Error().Err(err).Int("attempt", attempt).Dur("retry_in", s.retry).Msg("broker connect failed")
			if !s.wait(ctx) {
				return
			}
			continue
		}

		attempt = 0
		closed := ch.NotifyClose(make(chan *amqp.Error, 1))
		s.set(ch, StateConnected)
		s.log.Info().Msg("broker connected")

		if s.serve != nil {
			s.serve(ctx, ch, closed)
		} else {
			select {
			case <-ctx.Done():
			case amqpErr := <-closed:
				if amqpErr != nil {
					s.log.Error().Str("reason", amqpErr.Reason).Int("code", amqpErr.Code).Msg("broker channel closed")
				}
			}
		}

		s.set(nil, StateDisconnected)
		_ = ch.Close()
		_ = conn.Close()

		if ctx.Err() != nil {
			s.log.Info().Msg("broker connection stopped")
			return
		}
		s.log.Warn().Dur("retry_in", s.retry).Msg("broker connection lost, reconnecting")
		if !s.wait(ctx) {
			return
		}
	}
}

func (s *supervisor) connect() (Channel, io.Closer, error) {
	ch, conn, err := s.dial(s.url)
	if err != nil {
		return nil, nil, err
	}
	if s.setup != nil {
		if err := s.setup(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
	}
	return ch, conn, nil
}

func (s *supervisor) wait(ctx context.Context) bool {
	t := time.NewTimer(s.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
