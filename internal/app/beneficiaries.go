package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

func (s *Service) CreateBeneficiary(ctx context.Context, ownerID string, input domain.BeneficiaryInput) (*domain.Beneficiary, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	b := &domain.Beneficiary{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Name:     input.Name,
		Currency: input.Currency,
		Details:  input.Details,
	}
	if err := s.repo.CreateBeneficiary(ctx, b); err != nil {
		if errors.Is(err, store.ErrDuplicateBeneficiary) {
			return nil, domain.ErrDuplicateBeneficiary
		}
		return nil, storageErr("create beneficiary", err)
	}
	return b, nil
}

// ListBeneficiaries returns the owner's active beneficiaries, optionally
// restricted to one variant.
func (s *Service) ListBeneficiaries(ctx context.Context, ownerID string, typ domain.BeneficiaryType) ([]domain.Beneficiary, error) {
	switch typ {
	case "", domain.BeneficiaryLocal, domain.BeneficiaryInternational:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", domain.ErrInvalidBeneficiary, typ)
	}
	beneficiaries, err := s.repo.ListBeneficiaries(ctx, ownerID, typ)
	if err != nil {
		return nil, storageErr("list beneficiaries", err)
	}
	return beneficiaries, nil
}

// RenameBeneficiary changes the display name only. Transfers already made keep
// the name they were snapshotted with.
func (s *Service) RenameBeneficiary(ctx context.Context, ownerID string, id uuid.UUID, name string) (*domain.Beneficiary, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 120 {
		return nil, fmt.Errorf("%w: name must be 1-120 characters", domain.ErrInvalidBeneficiary)
	}
	b, err := s.repo.UpdateBeneficiaryName(ctx, ownerID, id, name)
	if err != nil {
		if errors.Is(err, store.ErrBeneficiaryNotFound) {
			return nil, domain.ErrBeneficiaryNotFound
		}
		return nil, storageErr("rename beneficiary", err)
	}
	return b, nil
}

func (s *Service) ArchiveBeneficiary(ctx context.Context, ownerID string, id uuid.UUID) error {
	if err := s.repo.ArchiveBeneficiary(ctx, ownerID, id); err != nil {
		if errors.Is(err, store.ErrBeneficiaryNotFound) {
			return domain.ErrBeneficiaryNotFound
		}
		return storageErr("archive beneficiary", err)
	}
	return nil
}
