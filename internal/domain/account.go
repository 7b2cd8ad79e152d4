package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxAmount is the largest amount, in minor units, accepted by a single
// operation. It keeps amount plus fee and amount times any FX rate in the
// table well inside int64.
const MaxAmount int64 = 1_000_000_000_000_000

// Account holds a single balance in one currency. Balance is in minor units
// and never drops below zero; it only moves through the ledger.
type Account struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Number    string    `json:"account_number"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenAccountRequest is used by the internal provisioning endpoint.
type OpenAccountRequest struct {
	OwnerID        string
	Currency       string
	InitialBalance int64
}
