// Package payments reconciles Khalti payments with bookings. A booking may
// live in either booking family; transactions live in the family's own table.
package payments

import (
	"context"
	"esm/src/config"
	"esm/src/lib"
	"esm/src/lib/khalti"
	"esm/src/models"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Initiator interface {
	Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error)
}

type Looker interface {
	Lookup(ctx context.Context, pidx string) (*khalti.LookupResponse, error)
}

type Gateway interface {
	Initiator
	Looker
}

type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
}

type Alerter interface {
	Alert(ctx context.Context, subject string, message string) error
}

type Service struct {
	db        *gorm.DB
	initiator Initiator
	looker    Looker
	cfg       config.KhaltiConfig
	families  []BookingFamily
	locker    Locker
	publisher Publisher
	alerter   Alerter
	now       func() time.Time
	log       zerolog.Logger
}

type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithAlerter(a Alerter) Option {
	return func(s *Service) {
		if a != nil {
			s.alerter = a
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithFamilies sets the booking lookup order.
func WithFamilies(families ...BookingFamily) Option {
	return func(s *Service) {
		s.families = families
	}
}

func NewService(db *gorm.DB, gateway Gateway, cfg config.KhaltiConfig, opts ...Option) *Service {
	s := &Service{
		db:        db,
		initiator: gateway,
		looker:    gateway,
		cfg:       cfg,
		families:  DefaultFamilies(),
		locker:    noopLocker{},
		publisher: noopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
		log:       *lib.WithComponent("payments"),
	}
	s.alerter = logAlerter{log: s.log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	return nil
}

type logAlerter struct {
	log zerolog.Logger
}

func (a logAlerter) Alert(ctx context.Context, subject string, message string) error {
	a.log.Error().Str("alert", subject).Msg(message)
	return nil
}

// PaymentEvent is published after a payment outcome is committed.
type PaymentEvent struct {
	Event         string    `json:"event"`
	Family        string    `json:"family"`
	BookingID     string    `json:"booking_id"`
	TransactionID string    `json:"transaction_id"`
	Pidx          string    `json:"pidx,omitempty"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (s *Service) publish(ctx context.Context, family BookingFamily, t *models.Transaction) {
	topic := lib.TopicPaymentFailed
	if t.IsCompleted() {
		topic = lib.TopicPaymentCompleted
	}
	ev := PaymentEvent{
		Event:         topic,
		Family:        string(family.Name()),
		BookingID:     t.BookingID.String(),
		TransactionID: t.ID.String(),
		Pidx:          t.Pidx(),
		Amount:        t.Amount.StringFixed(2),
		Status:        string(t.Status),
		OccurredAt:    s.now(),
	}
	if t.FailureReason != nil {
		ev.Reason = *t.FailureReason
	}
	if err := s.publisher.Publish(ctx, topic, ev.BookingID, ev); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Str("transaction_id", ev.TransactionID).Msg("could not publish payment event")
	}
}

func (s *Service) alert(ctx context.Context, subject string, message string) {
	if err := s.alerter.Alert(ctx, subject, message); err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("could not raise alert")
	}
}
