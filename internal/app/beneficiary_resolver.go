package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

// BeneficiaryResolver turns a transfer's destination reference into a frozen
// snapshot. It never keeps a reference to the stored entity.
type BeneficiaryResolver struct {
	beneficiaries store.BeneficiaryStore
}

func NewBeneficiaryResolver(beneficiaries store.BeneficiaryStore) *BeneficiaryResolver {
	return &BeneficiaryResolver{beneficiaries: beneficiaries}
}

// Resolve snapshots either a saved beneficiary scoped to (id, owner, kind,
// not archived) or inline details validated for kind. Inline details are not
// persisted.
func (r *BeneficiaryResolver) Resolve(ctx context.Context, ownerID string, kind domain.TransferKind, ref domain.BeneficiaryRef) (domain.BeneficiarySnapshot, error) {
	typ, err := domain.BeneficiaryTypeForKind(kind)
	if err != nil {
		return domain.BeneficiarySnapshot{}, err
	}

	switch ref := ref.(type) {
	case domain.SavedBeneficiary:
		b, err := r.beneficiaries.FindBeneficiary(ctx, ownerID, ref.ID, typ)
		if err != nil {
			if errors.Is(err, store.ErrBeneficiaryNotFound) {
				return domain.BeneficiarySnapshot{}, domain.ErrBeneficiaryNotFound
			}
			return domain.BeneficiarySnapshot{}, storageErr("find beneficiary", err)
		}
		return domain.SnapshotOf(*b), nil

	case domain.InlineBeneficiary:
		input := ref.Input.Normalize()
		if input.Details == nil {
			return domain.BeneficiarySnapshot{}, fmt.Errorf("%w: destination details are required", domain.ErrInvalidBeneficiary)
		}
		if input.Details.Type() != typ {
			return domain.BeneficiarySnapshot{}, fmt.Errorf("%w: %s transfers need %s details", domain.ErrInvalidBeneficiary, kind, typ)
		}
		if err := input.Validate(); err != nil {
			return domain.BeneficiarySnapshot{}, err
		}
		return domain.SnapshotOfInput(input), nil

	default:
		return domain.BeneficiarySnapshot{}, fmt.Errorf("%w: beneficiary id or inline details are required", domain.ErrInvalidBeneficiary)
	}
}
