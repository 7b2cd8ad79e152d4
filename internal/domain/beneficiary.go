package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BeneficiaryType discriminates the destination shape of a beneficiary.
type BeneficiaryType string

const (
	BeneficiaryLocal         BeneficiaryType = "LOCAL"
	BeneficiaryInternational BeneficiaryType = "INTERNATIONAL"
	// BeneficiaryBiller only appears in transfer snapshots for purchases.
	BeneficiaryBiller BeneficiaryType = "BILLER"
)

var (
	localAccountPattern = regexp.MustCompile(`^[0-9]{6,20}$`)
	bankCodePattern     = regexp.MustCompile(`^[A-Z0-9]{3,11}$`)
	ibanPattern         = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)
	foreignAcctPattern  = regexp.MustCompile(`^[A-Z0-9]{4,34}$`)
	swiftPattern        = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	countryPattern      = regexp.MustCompile(`^[A-Z]{2}$`)
)

// BeneficiaryDetails is the closed set of destination shapes. Only LocalDetails
// and InternationalDetails implement it.
type BeneficiaryDetails interface {
	Type() BeneficiaryType
	// DestinationKey identifies the destination for per-owner uniqueness.
	DestinationKey() string
	Validate() error
	normalize() BeneficiaryDetails
	flatten(s *BeneficiarySnapshot)
}

// LocalDetails addresses an account at a domestic bank.
type LocalDetails struct {
	AccountNumber string
	BankCode      string
	BranchCode    string
	BankName      string
}

func (LocalDetails) Type() BeneficiaryType { return BeneficiaryLocal }

func (d LocalDetails) DestinationKey() string {
	return strings.Join([]string{d.AccountNumber, d.BankCode, d.BranchCode}, "|")
}

func (d LocalDetails) Validate() error {
	if !localAccountPattern.MatchString(d.AccountNumber) {
		return fmt.Errorf("%w: account number must be 6-20 digits", ErrInvalidBeneficiary)
	}
	if !bankCodePattern.MatchString(d.BankCode) {
		return fmt.Errorf("%w: bank code must be 3-11 alphanumeric characters", ErrInvalidBeneficiary)
	}
	if d.BranchCode != "" && !bankCodePattern.MatchString(d.BranchCode) {
		return fmt.Errorf("%w: branch code must be 3-11 alphanumeric characters", ErrInvalidBeneficiary)
	}
	return nil
}

func (d LocalDetails) normalize() BeneficiaryDetails {
	d.AccountNumber = strings.TrimSpace(d.AccountNumber)
	d.BankCode = strings.ToUpper(strings.TrimSpace(d.BankCode))
	d.BranchCode = strings.ToUpper(strings.TrimSpace(d.BranchCode))
	d.BankName = strings.TrimSpace(d.BankName)
	return d
}

func (d LocalDetails) flatten(s *BeneficiarySnapshot) {
	s.AccountNumber = d.AccountNumber
	s.BankCode = d.BankCode
	s.BranchCode = d.BranchCode
	s.BankName = d.BankName
}

// InternationalDetails addresses a foreign account by IBAN or account number
// plus SWIFT/BIC.
type InternationalDetails struct {
	IBAN          string
	AccountNumber string
	SwiftBIC      string
	Country       string
	BankName      string
}

func (InternationalDetails) Type() BeneficiaryType { return BeneficiaryInternational }

func (d InternationalDetails) DestinationKey() string {
	account := d.IBAN
	if account == "" {
		account = d.AccountNumber
	}
	return account + "|" + d.SwiftBIC
}

func (d InternationalDetails) Validate() error {
	switch {
	case d.IBAN != "":
		if !ibanPattern.MatchString(d.IBAN) {
			return fmt.Errorf("%w: malformed IBAN", ErrInvalidBeneficiary)
		}
	case d.AccountNumber != "":
		if !foreignAcctPattern.MatchString(d.AccountNumber) {
			return fmt.Errorf("%w: account number must be 4-34 alphanumeric characters", ErrInvalidBeneficiary)
		}
	default:
		return fmt.Errorf("%w: IBAN or account number is required", ErrInvalidBeneficiary)
	}
	if !swiftPattern.MatchString(d.SwiftBIC) {
		return fmt.Errorf("%w: SWIFT/BIC must be 8 or 11 characters", ErrInvalidBeneficiary)
	}
	if !countryPattern.MatchString(d.Country) {
		return fmt.Errorf("%w: country must be an ISO 3166 alpha-2 code", ErrInvalidBeneficiary)
	}
	return nil
}

func (d InternationalDetails) normalize() BeneficiaryDetails {
	d.IBAN = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(d.IBAN), " ", ""))
	d.AccountNumber = strings.ToUpper(strings.TrimSpace(d.AccountNumber))
	d.SwiftBIC = strings.ToUpper(strings.TrimSpace(d.SwiftBIC))
	d.Country = strings.ToUpper(strings.TrimSpace(d.Country))
	d.BankName = strings.TrimSpace(d.BankName)
	return d
}

func (d InternationalDetails) flatten(s *BeneficiarySnapshot) {
	s.IBAN = d.IBAN
	s.AccountNumber = d.AccountNumber
	s.SwiftBIC = d.SwiftBIC
	s.Country = d.Country
	s.BankName = d.BankName
}

// NormalizeDetails trims and upper-cases identifiers so that uniqueness and
// validation see one canonical form.
func NormalizeDetails(d BeneficiaryDetails) BeneficiaryDetails {
	if d == nil {
		return nil
	}
	return d.normalize()
}

// Beneficiary is a saved destination owned by one user.
type Beneficiary struct {
	ID        uuid.UUID
	OwnerID   string
	Name      string
	Currency  string
	Details   BeneficiaryDetails
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Type reports the variant of the stored details.
func (b Beneficiary) Type() BeneficiaryType {
	if b.Details == nil {
		return ""
	}
	return b.Details.Type()
}

// BeneficiaryInput carries the fields a caller supplies to save or inline a
// beneficiary.
type BeneficiaryInput struct {
	Name     string
	Currency string
	Details  BeneficiaryDetails
}

// Normalize returns a trimmed copy with canonical details.
func (in BeneficiaryInput) Normalize() BeneficiaryInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Details = NormalizeDetails(in.Details)
	return in
}

// Validate checks the variant-specific rules. International beneficiaries must
// declare the currency they receive.
func (in BeneficiaryInput) Validate() error {
	if in.Name == "" || len(in.Name) > 120 {
		return fmt.Errorf("%w: name must be 1-120 characters", ErrInvalidBeneficiary)
	}
	if in.Details == nil {
		return fmt.Errorf("%w: destination details are required", ErrInvalidBeneficiary)
	}
	if in.Details.Type() == BeneficiaryInternational && in.Currency == "" {
		return fmt.Errorf("%w: currency is required for international beneficiaries", ErrInvalidBeneficiary)
	}
	return in.Details.Validate()
}

// BeneficiarySnapshot is the flattened value copy embedded in a transfer. It
// is also the flat storage form of beneficiary details.
type BeneficiarySnapshot struct {
	BeneficiaryID *uuid.UUID      `json:"beneficiary_id,omitempty"`
	Type          BeneficiaryType `json:"type"`
	Name          string          `json:"name"`
	Currency      string          `json:"currency,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	BankCode      string          `json:"bank_code,omitempty"`
	BranchCode    string          `json:"branch_code,omitempty"`
	BankName      string          `json:"bank_name,omitempty"`
	IBAN          string          `json:"iban,omitempty"`
	SwiftBIC      string          `json:"swift_bic,omitempty"`
	Country       string          `json:"country,omitempty"`
	Provider      string          `json:"provider,omitempty"`
	PhoneNumber   string          `json:"phone_number,omitempty"`
}

// SnapshotOfInput flattens caller-supplied details without a stored entity.
func SnapshotOfInput(in BeneficiaryInput) BeneficiarySnapshot {
	s := BeneficiarySnapshot{
		Type:     in.Details.Type(),
		Name:     in.Name,
		Currency: in.Currency,
	}
	in.Details.flatten(&s)
	return s
}

// SnapshotOf copies every display and banking field of a stored beneficiary.
func SnapshotOf(b Beneficiary) BeneficiarySnapshot {
	id := b.ID
	s := SnapshotOfInput(BeneficiaryInput{Name: b.Name, Currency: b.Currency, Details: b.Details})
	s.BeneficiaryID = &id
	return s
}

// Details rebuilds the typed variant from the flat form.
func (s BeneficiarySnapshot) Details() (BeneficiaryDetails, error) {
	switch s.Type {
	case BeneficiaryLocal:
		return LocalDetails{
			AccountNumber: s.AccountNumber,
			BankCode:      s.BankCode,
			BranchCode:    s.BranchCode,
			BankName:      s.BankName,
		}, nil
	case BeneficiaryInternational:
		return InternationalDetails{
			IBAN:          s.IBAN,
			AccountNumber: s.AccountNumber,
			SwiftBIC:      s.SwiftBIC,
			Country:       s.Country,
			BankName:      s.BankName,
		}, nil
	default:
		return nil, fmt.Errorf("unknown beneficiary type %q", s.Type)
	}
}

// BeneficiaryTypeForKind returns the beneficiary variant a transfer kind pays to.
func BeneficiaryTypeForKind(kind TransferKind) (BeneficiaryType, error) {
	switch kind {
	case KindSameBank, KindLocal:
		return BeneficiaryLocal, nil
	case KindInternational:
		return BeneficiaryInternational, nil
	default:
		return "", ErrUnsupportedKind
	}
}
