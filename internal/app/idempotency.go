package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

const (
	minIdempotencyKeyLength = 8
	maxIdempotencyKeyLength = 64
)

// NormalizeIdempotencyKey trims key and checks it is valid UTF-8 of 8-64
// characters. An empty key means the request is not deduplicated.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil
	}
	if !utf8.ValidString(key) {
		return "", domain.ErrInvalidIdempotencyKey
	}
	if n := utf8.RuneCountInString(key); n < minIdempotencyKeyLength || n > maxIdempotencyKeyLength {
		return "", domain.ErrInvalidIdempotencyKey
	}
	return key, nil
}

// IdempotencyLedger maps (owner, key) to the transfer first created with it.
// The storage uniqueness constraint is the final authority; Lookup only
// short-circuits the common sequential retry.
type IdempotencyLedger struct {
	transfers store.TransferStore
}

func NewIdempotencyLedger(transfers store.TransferStore) *IdempotencyLedger {
	return &IdempotencyLedger{transfers: transfers}
}

// Lookup returns the transfer recorded under key, or nil when there is none.
func (l *IdempotencyLedger) Lookup(ctx context.Context, ownerID, key string) (*domain.Transfer, error) {
	if key == "" {
		return nil, nil
	}
	t, err := l.transfers.FindTransferByIdempotencyKey(ctx, ownerID, key)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, nil
		}
		return nil, storageErr("lookup idempotency key", err)
	}
	return t, nil
}

// Insert persists t. When a concurrent request with the same key won the
// race, the winner's record is returned with replay set.
func (l *IdempotencyLedger) Insert(ctx context.Context, t *domain.Transfer) (record *domain.Transfer, replay bool, err error) {
	err = l.transfers.InsertTransfer(ctx, t)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, store.ErrDuplicateIdempotencyKey) || t.IdempotencyKey == nil {
		return nil, false, storageErr("insert transfer", err)
	}

	existing, err := l.transfers.FindTransferByIdempotencyKey(ctx, t.OwnerID, *t.IdempotencyKey)
	if err != nil {
		return nil, false, storageErr("fetch idempotent winner", err)
	}
	return existing, true, nil
}
