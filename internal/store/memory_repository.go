package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
)

type memoryState struct {
	mu sync.Mutex

	accounts         map[string]domain.Account
	beneficiaries    map[uuid.UUID]domain.Beneficiary
	beneficiaryIndex map[string]uuid.UUID
	transfers        map[uuid.UUID]domain.Transfer
	transferSeq      map[uuid.UUID]int64
	idempotencyIndex map[string]uuid.UUID
	seq              int64
}

// MemoryRepository keeps everything in process memory. Each operation is
// atomic under one mutex; transactions keep an undo log that is replayed in
// reverse when fn fails. Undo steps are commutative with concurrent writers
// (balance deltas, guarded status resets, deletes of own inserts).
type MemoryRepository struct {
	state *memoryState
	undo  *[]func()
	now   func() time.Time
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			accounts:         make(map[string]domain.Account),
			beneficiaries:    make(map[uuid.UUID]domain.Beneficiary),
			beneficiaryIndex: make(map[string]uuid.UUID),
			transfers:        make(map[uuid.UUID]domain.Transfer),
			transferSeq:      make(map[uuid.UUID]int64),
			idempotencyIndex: make(map[string]uuid.UUID),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *MemoryRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if r.undo != nil {
		return fn(ctx, r)
	}

	var undo []func()
	tx := &MemoryRepository{state: r.state, undo: &undo, now: r.now}
	if err := fn(ctx, tx); err != nil {
		r.state.mu.Lock()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		r.state.mu.Unlock()
		return err
	}
	return nil
}

// record must be called with state.mu held.
func (r *MemoryRepository) record(step func()) {
	if r.undo != nil {
		*r.undo = append(*r.undo, step)
	}
}

func beneficiaryIndexKey(ownerID string, typ domain.BeneficiaryType, destination string) string {
	return strings.Join([]string{ownerID, string(typ), destination}, "\x00")
}

func idempotencyIndexKey(ownerID, key string) string {
	return ownerID + "\x00" + key
}

// Accounts

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.accounts[account.Number]; taken {
		return ErrDuplicateAccountNumber
	}
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Archived = false
	s.accounts[account.Number] = *account

	number := account.Number
	r.record(func() { delete(s.accounts, number) })
	return nil
}

func (r *MemoryRepository) FindAccount(ctx context.Context, ownerID, number string) (*domain.Account, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[number]
	if !ok || account.Archived || account.OwnerID != ownerID {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[number]
	if !ok || account.Archived {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func (r *MemoryRepository) ListAccountsByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]domain.Account, 0)
	for _, account := range s.accounts {
		if account.OwnerID == ownerID && !account.Archived {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].Number < accounts[j].Number
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (r *MemoryRepository) DecrementBalance(ctx context.Context, ownerID, number string, amount int64) (int64, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[number]
	if !ok || account.Archived || account.OwnerID != ownerID || account.Balance < amount {
		return 0, ErrConditionNotMet
	}
	account.Balance -= amount
	account.UpdatedAt = r.now()
	s.accounts[number] = account

	r.record(func() {
		restored := s.accounts[number]
		restored.Balance += amount
		s.accounts[number] = restored
	})
	return account.Balance, nil
}

func (r *MemoryRepository) IncrementBalance(ctx context.Context, number string, amount int64) (int64, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[number]
	if !ok || account.Archived {
		return 0, ErrAccountNotFound
	}
	if amount > math.MaxInt64-account.Balance {
		return 0, ErrBalanceOverflow
	}
	account.Balance += amount
	account.UpdatedAt = r.now()
	s.accounts[number] = account

	r.record(func() {
		restored := s.accounts[number]
		restored.Balance -= amount
		s.accounts[number] = restored
	})
	return account.Balance, nil
}

func (r *MemoryRepository) ArchiveAccount(ctx context.Context, ownerID, number string) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[number]
	if !ok || account.Archived || account.OwnerID != ownerID {
		return ErrAccountNotFound
	}
	account.Archived = true
	account.UpdatedAt = r.now()
	s.accounts[number] = account

	r.record(func() {
		restored := s.accounts[number]
		restored.Archived = false
		s.accounts[number] = restored
	})
	return nil
}

// Beneficiaries

func (r *MemoryRepository) CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	key := beneficiaryIndexKey(b.OwnerID, b.Type(), b.Details.DestinationKey())
	if _, taken := s.beneficiaryIndex[key]; taken {
		return ErrDuplicateBeneficiary
	}
	now := r.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Archived = false
	s.beneficiaries[b.ID] = *b
	s.beneficiaryIndex[key] = b.ID

	id := b.ID
	r.record(func() {
		delete(s.beneficiaries, id)
		delete(s.beneficiaryIndex, key)
	})
	return nil
}

func (r *MemoryRepository) FindBeneficiary(ctx context.Context, ownerID string, id uuid.UUID, typ domain.BeneficiaryType) (*domain.Beneficiary, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beneficiaries[id]
	if !ok || b.Archived || b.OwnerID != ownerID || (typ != "" && b.Type() != typ) {
		return nil, ErrBeneficiaryNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) ListBeneficiaries(ctx context.Context, ownerID string, typ domain.BeneficiaryType) ([]domain.Beneficiary, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	beneficiaries := make([]domain.Beneficiary, 0)
	for _, b := range s.beneficiaries {
		if b.OwnerID == ownerID && !b.Archived && (typ == "" || b.Type() == typ) {
			beneficiaries = append(beneficiaries, b)
		}
	}
	sort.Slice(beneficiaries, func(i, j int) bool {
		return beneficiaries[i].CreatedAt.After(beneficiaries[j].CreatedAt)
	})
	return beneficiaries, nil
}

func (r *MemoryRepository) UpdateBeneficiaryName(ctx context.Context, ownerID string, id uuid.UUID, name string) (*domain.Beneficiary, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beneficiaries[id]
	if !ok || b.Archived || b.OwnerID != ownerID {
		return nil, ErrBeneficiaryNotFound
	}
	previous := b.Name
	b.Name = name
	b.UpdatedAt = r.now()
	s.beneficiaries[id] = b

	r.record(func() {
		restored := s.beneficiaries[id]
		restored.Name = previous
		s.beneficiaries[id] = restored
	})
	return &b, nil
}

func (r *MemoryRepository) ArchiveBeneficiary(ctx context.Context, ownerID string, id uuid.UUID) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.beneficiaries[id]
	if !ok || b.Archived || b.OwnerID != ownerID {
		return ErrBeneficiaryNotFound
	}
	b.Archived = true
	b.UpdatedAt = r.now()
	s.beneficiaries[id] = b
	key := beneficiaryIndexKey(b.OwnerID, b.Type(), b.Details.DestinationKey())
	delete(s.beneficiaryIndex, key)

	r.record(func() {
		restored := s.beneficiaries[id]
		restored.Archived = false
		s.beneficiaries[id] = restored
		s.beneficiaryIndex[key] = id
	})
	return nil
}

// Transfers

func cloneTransfer(t domain.Transfer) domain.Transfer {
	if t.FX != nil {
		fx := *t.FX
		t.FX = &fx
	}
	if t.IdempotencyKey != nil {
		key := *t.IdempotencyKey
		t.IdempotencyKey = &key
	}
	if t.FailureReason != nil {
		reason := *t.FailureReason
		t.FailureReason = &reason
	}
	if t.Beneficiary.BeneficiaryID != nil {
		id := *t.Beneficiary.BeneficiaryID
		t.Beneficiary.BeneficiaryID = &id
	}
	return t
}

func (r *MemoryRepository) InsertTransfer(ctx context.Context, t *domain.Transfer) error {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	var indexKey string
	if t.IdempotencyKey != nil {
		indexKey = idempotencyIndexKey(t.OwnerID, *t.IdempotencyKey)
		if _, taken := s.idempotencyIndex[indexKey]; taken {
			return ErrDuplicateIdempotencyKey
		}
	}

	now := r.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.seq++
	s.transfers[t.ID] = cloneTransfer(*t)
	s.transferSeq[t.ID] = s.seq
	if indexKey != "" {
		s.idempotencyIndex[indexKey] = t.ID
	}

	id := t.ID
	r.record(func() {
		delete(s.transfers, id)
		delete(s.transferSeq, id)
		if indexKey != "" {
			delete(s.idempotencyIndex, indexKey)
		}
	})
	return nil
}

func (r *MemoryRepository) FindTransfer(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Transfer, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok || t.OwnerID != ownerID {
		return nil, ErrTransferNotFound
	}
	clone := cloneTransfer(t)
	return &clone, nil
}

func (r *MemoryRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	clone := cloneTransfer(t)
	return &clone, nil
}

func (r *MemoryRepository) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (*domain.Transfer, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idempotencyIndex[idempotencyIndexKey(ownerID, key)]
	if !ok {
		return nil, ErrTransferNotFound
	}
	clone := cloneTransfer(s.transfers[id])
	return &clone, nil
}

func (r *MemoryRepository) ListTransfers(ctx context.Context, ownerID string, filter domain.ListTransfersFilter) ([]domain.Transfer, error) {
	filter = normalizeListFilter(filter)

	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.Transfer, 0)
	for _, t := range s.transfers {
		if t.OwnerID != ownerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		matched = append(matched, cloneTransfer(t))
	}
	sort.Slice(matched, func(i, j int) bool {
		return s.transferSeq[matched[i].ID] > s.transferSeq[matched[j].ID]
	})

	if filter.Offset >= len(matched) {
		return []domain.Transfer{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

func (r *MemoryRepository) TransitionTransferStatus(ctx context.Context, id uuid.UUID, from, to domain.TransferStatus, reason *string) (*domain.Transfer, error) {
	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	if t.Status != from {
		return nil, ErrConditionNotMet
	}

	previous := cloneTransfer(t)
	t.Status = to
	if reason != nil {
		value := *reason
		t.FailureReason = &value
	}
	t.UpdatedAt = r.now()
	s.transfers[id] = t

	r.record(func() {
		if current, ok := s.transfers[id]; ok && current.Status == to {
			s.transfers[id] = previous
		}
	})

	clone := cloneTransfer(t)
	return &clone, nil
}

func (r *MemoryRepository) FindStaleTransfers(ctx context.Context, status domain.TransferStatus, updatedBefore time.Time, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s := r.state
	s.mu.Lock()
	defer s.mu.Unlock()

	stale := make([]domain.Transfer, 0)
	for _, t := range s.transfers {
		if t.Status == status && t.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, cloneTransfer(t))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
