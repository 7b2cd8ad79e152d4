/**
 * @description
 * This file contains the core business logic for the transfer-service. The `Service`
 * struct orchestrates every money movement, composing the fee calculator, the
 * idempotency ledger, the beneficiary resolver and the balance ledger on top of a
 * single storage Repository.
 *
 * Key features:
 * - Implements the main use cases: reviewed transfers and immediate-settlement purchases.
 * - Owns the transfer status machine; every transition is a guarded storage write.
 * - Publishes events to RabbitMQ on a best-effort basis.
 *
 * @dependencies
 * - go.uber.org/zap: structured logging.
 * - internal/domain, internal/store, internal/fees: domain models, data access and pricing.
 */

package app

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/fees"
	"github.com/transfa/transfer-service/internal/store"
	"go.uber.org/zap"
)

const defaultEventsExchange = "transfa.events"

// EventPublisher is the subset of the RabbitMQ producer the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Service provides the core business logic for transfers.
type Service struct {
	repo        store.Repository
	calculator  *fees.Calculator
	resolver    *BeneficiaryResolver
	idempotency *IdempotencyLedger
	ledger      *Ledger
	publisher   EventPublisher
	exchange    string
	logger      *zap.Logger
	now         func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher enables event publishing on exchange.
func WithPublisher(publisher EventPublisher, exchange string) Option {
	return func(s *Service) {
		s.publisher = publisher
		if exchange != "" {
			s.exchange = exchange
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository, calculator *fees.Calculator, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		calculator: calculator,
		exchange:   defaultEventsExchange,
		logger:     zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.calculator == nil {
		s.calculator = fees.NewCalculator(nil)
	}
	s.resolver = NewBeneficiaryResolver(repo)
	s.idempotency = NewIdempotencyLedger(repo)
	s.ledger = NewLedger(repo, s.logger)
	return s
}

// Quote prices a transfer without touching storage.
func (s *Service) Quote(kind domain.TransferKind, amount int64, currency, targetCurrency string) (fees.Quote, error) {
	if kind == domain.KindPurchase || !kind.Valid() {
		return fees.Quote{}, domain.ErrUnsupportedKind
	}
	return s.calculator.Quote(kind, amount, currency, targetCurrency)
}

// transition applies a guarded status change and maps store failures onto
// domain errors.
func (s *Service) transition(ctx context.Context, repo store.Repository, t *domain.Transfer, to domain.TransferStatus, reason *string) (*domain.Transfer, error) {
	if !domain.CanTransition(t.Status, to) {
		return nil, domain.ErrInvalidStatusTransition
	}
	updated, err := repo.TransitionTransferStatus(ctx, t.ID, t.Status, to, reason)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConditionNotMet):
			return nil, domain.ErrInvalidStatusTransition
		case errors.Is(err, store.ErrTransferNotFound):
			return nil, domain.ErrTransferNotFound
		default:
			return nil, storageErr("transition transfer", err)
		}
	}
	return updated, nil
}

// publish never fails the caller; a lost event is logged and dropped.
func (s *Service) publish(ctx context.Context, eventType string, t *domain.Transfer) {
	if s.publisher == nil || t == nil {
		return
	}
	event := domain.NewTransferEvent(eventType, t, s.now())
	if err := s.publisher.Publish(ctx, s.exchange, eventType, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("component", "events"),
			zap.String("routing_key", eventType),
			zap.String("transfer_id", t.ID.String()),
			zap.Error(err),
		)
	}
}
