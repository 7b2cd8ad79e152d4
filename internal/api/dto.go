package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/fees"
)

const maxBodyBytes = 1 << 20

var accountNumberPattern = regexp.MustCompile(`^[0-9]{10}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		return accountNumberPattern.MatchString(fl.Field().String())
	})
	return v
}

var errInvalidJSON = errors.New("invalid JSON")

// decodeAndValidate reads a JSON body into dst, lets it normalize itself and
// runs struct validation. Returned errors are ready for writeRequestError.
func decodeAndValidate(r *http.Request, dst interface{ normalize() }) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	dst.normalize()
	return validate.Struct(dst)
}

// writeRequestError reports a decode or validation failure.
func writeRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, errInvalidJSON) {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		}
		writeError(w, http.StatusBadRequest, CodeValidationFailed, strings.Join(fields, "; "))
		return
	}
	writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

type quoteRequest struct {
	Kind           string `json:"kind" validate:"required,oneof=SAME_BANK LOCAL INTERNATIONAL"`
	Amount         int64  `json:"amount" validate:"gt=0,lte=1000000000000000"`
	Currency       string `json:"currency" validate:"required,iso4217"`
	TargetCurrency string `json:"target_currency" validate:"omitempty,iso4217"`
}

func (q *quoteRequest) normalize() {
	q.Kind = upper(q.Kind)
	q.Currency = upper(q.Currency)
	q.TargetCurrency = upper(q.TargetCurrency)
}

type quoteResponse struct {
	Kind            domain.TransferKind `json:"kind"`
	Amount          int64               `json:"amount"`
	Fee             int64               `json:"fee"`
	TotalDebit      int64               `json:"total_debit"`
	SourceCurrency  string              `json:"source_currency"`
	TargetCurrency  string              `json:"target_currency,omitempty"`
	Rate            *decimal.Decimal    `json:"rate,omitempty"`
	ConvertedAmount *int64              `json:"converted_amount,omitempty"`
}

func newQuoteResponse(q fees.Quote) quoteResponse {
	resp := quoteResponse{
		Kind:           q.Kind,
		Amount:         q.Amount,
		Fee:            q.Fee,
		TotalDebit:     q.Amount + q.Fee,
		SourceCurrency: q.SourceCurrency,
	}
	if q.Kind == domain.KindInternational {
		rate := q.Rate
		converted := q.ConvertedAmount
		resp.TargetCurrency = q.TargetCurrency
		resp.Rate = &rate
		resp.ConvertedAmount = &converted
	}
	return resp
}

// beneficiaryPayload is the flat wire form of beneficiary details. The
// destination-specific format checks live in the domain.
type beneficiaryPayload struct {
	Type          string `json:"type" validate:"required,oneof=LOCAL INTERNATIONAL"`
	Name          string `json:"name" validate:"required,max=120"`
	Currency      string `json:"currency" validate:"omitempty,iso4217"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	BranchCode    string `json:"branch_code"`
	BankName      string `json:"bank_name"`
	IBAN          string `json:"iban"`
	SwiftBIC      string `json:"swift_bic"`
	Country       string `json:"country"`
}

func (p *beneficiaryPayload) normalize() {
	p.Type = upper(p.Type)
	p.Name = strings.TrimSpace(p.Name)
	p.Currency = upper(p.Currency)
}

func (p beneficiaryPayload) toInput() domain.BeneficiaryInput {
	in := domain.BeneficiaryInput{Name: p.Name, Currency: p.Currency}
	switch domain.BeneficiaryType(p.Type) {
	case domain.BeneficiaryLocal:
		in.Details = domain.LocalDetails{
			AccountNumber: p.AccountNumber,
			BankCode:      p.BankCode,
			BranchCode:    p.BranchCode,
			BankName:      p.BankName,
		}
	case domain.BeneficiaryInternational:
		in.Details = domain.InternationalDetails{
			IBAN:          p.IBAN,
			AccountNumber: p.AccountNumber,
			SwiftBIC:      p.SwiftBIC,
			Country:       p.Country,
			BankName:      p.BankName,
		}
	}
	return in
}

type transferRequest struct {
	Kind           string              `json:"kind" validate:"required,oneof=SAME_BANK LOCAL INTERNATIONAL"`
	Amount         int64               `json:"amount" validate:"gt=0,lte=1000000000000000"`
	Currency       string              `json:"currency" validate:"required,iso4217"`
	TargetCurrency string              `json:"target_currency" validate:"omitempty,iso4217"`
	SourceAccount  string              `json:"source_account" validate:"required,account_number"`
	Reference      string              `json:"reference" validate:"max=140"`
	IdempotencyKey string              `json:"idempotency_key"`
	BeneficiaryID  string              `json:"beneficiary_id" validate:"required_without=Beneficiary,excluded_with=Beneficiary,omitempty,uuid"`
	Beneficiary    *beneficiaryPayload `json:"beneficiary"`
}

func (t *transferRequest) normalize() {
	t.Kind = upper(t.Kind)
	t.Currency = upper(t.Currency)
	t.TargetCurrency = upper(t.TargetCurrency)
	t.SourceAccount = strings.TrimSpace(t.SourceAccount)
	t.Reference = strings.TrimSpace(t.Reference)
	t.BeneficiaryID = strings.TrimSpace(t.BeneficiaryID)
	if t.Beneficiary != nil {
		t.Beneficiary.normalize()
	}
}

func (t transferRequest) toDomain(headerKey string) domain.TransferRequest {
	req := domain.TransferRequest{
		Kind:           domain.TransferKind(t.Kind),
		Amount:         t.Amount,
		Currency:       t.Currency,
		TargetCurrency: t.TargetCurrency,
		SourceAccount:  t.SourceAccount,
		Reference:      t.Reference,
		IdempotencyKey: pickIdempotencyKey(headerKey, t.IdempotencyKey),
	}
	if t.Beneficiary != nil {
		req.Beneficiary = domain.InlineBeneficiary{Input: t.Beneficiary.toInput()}
	} else {
		req.Beneficiary = domain.SavedBeneficiary{ID: uuid.MustParse(t.BeneficiaryID)}
	}
	return req
}

type purchaseRequest struct {
	Amount         int64  `json:"amount" validate:"gt=0,lte=1000000000000000"`
	Currency       string `json:"currency" validate:"required,iso4217"`
	SourceAccount  string `json:"source_account" validate:"required,account_number"`
	Reference      string `json:"reference" validate:"max=140"`
	IdempotencyKey string `json:"idempotency_key"`
	Provider       string `json:"provider" validate:"required,max=64"`
	PhoneNumber    string `json:"phone_number" validate:"required,e164"`
}

func (p *purchaseRequest) normalize() {
	p.Currency = upper(p.Currency)
	p.SourceAccount = strings.TrimSpace(p.SourceAccount)
	p.Reference = strings.TrimSpace(p.Reference)
	p.Provider = strings.TrimSpace(p.Provider)
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
}

func (p purchaseRequest) toDomain(headerKey string) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		SourceAccount:  p.SourceAccount,
		Reference:      p.Reference,
		IdempotencyKey: pickIdempotencyKey(headerKey, p.IdempotencyKey),
		Biller:         domain.BillerDetails{Provider: p.Provider, PhoneNumber: p.PhoneNumber},
	}
}

// pickIdempotencyKey prefers the Idempotency-Key header over the body field.
func pickIdempotencyKey(header, body string) string {
	if strings.TrimSpace(header) != "" {
		return header
	}
	return body
}

type transferResponse struct {
	*domain.Transfer
	Idempotent bool `json:"idempotent"`
}

func newTransferResponse(res *app.TransferResult) transferResponse {
	return transferResponse{Transfer: res.Transfer, Idempotent: res.Idempotent}
}

type renameBeneficiaryRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

func (r *renameBeneficiaryRequest) normalize() { r.Name = strings.TrimSpace(r.Name) }

type beneficiaryResponse struct {
	ID uuid.UUID `json:"id"`
	domain.BeneficiarySnapshot
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newBeneficiaryResponse(b domain.Beneficiary) beneficiaryResponse {
	snapshot := domain.SnapshotOf(b)
	snapshot.BeneficiaryID = nil
	return beneficiaryResponse{
		ID:                  b.ID,
		BeneficiarySnapshot: snapshot,
		Archived:            b.Archived,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

type openAccountRequest struct {
	OwnerID        string `json:"owner_id" validate:"required,max=128"`
	Currency       string `json:"currency" validate:"required,iso4217"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0,lte=1000000000000000"`
}

func (o *openAccountRequest) normalize() {
	o.OwnerID = strings.TrimSpace(o.OwnerID)
	o.Currency = upper(o.Currency)
}

type creditAccountRequest struct {
	Amount int64 `json:"amount" validate:"gt=0,lte=1000000000000000"`
}

func (c *creditAccountRequest) normalize() {}

type creditAccountResponse struct {
	AccountNumber string `json:"account_number"`
	Balance       int64  `json:"balance"`
}
