// Package directory is the read/write client for the on-chain agent
// directory contract. The service never mutates directory state itself; it
// only submits registration transactions through the sponsor wallet and
// reads the contract's views.
package directory

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFound is returned by Lookup when the directory confirmed the name
// is not registered. Transport failures are returned as-is so callers can
// tell "confirmed not found" from "could not determine".
var ErrNotFound = errors.New("agent not found")

// ErrNoSponsor is returned by write operations when no sponsor signing key
// was configured.
var ErrNoSponsor = errors.New("sponsor wallet not configured")

// Record is the authoritative on-chain registration entry. Platforms and
// URLs are index-aligned.
type Record struct {
	Name         string
	Platforms    []string
	URLs         []string
	Registrant   common.Address
	RegisteredAt time.Time
	LastActive   time.Time
}

// PendingTx is a registration transaction accepted into the pending pool
// but not yet mined.
type PendingTx struct {
	Hash string
	tx   *types.Transaction
}

// Confirmation is the result of a mined registration transaction.
type Confirmation struct {
	TxHash      string
	BlockNumber uint64
}

// Client is what the registration pipeline and the query layer consume.
type Client interface {
	Lookup(ctx context.Context, name string) (*Record, error)
	Count(ctx context.Context) (uint64, error)
	RegistrationFee(ctx context.Context) (*big.Int, error)
	AgentNames(ctx context.Context, offset, limit uint64) ([]string, error)
	SubmitRegistration(ctx context.Context, name string, platforms, urls []string, fee *big.Int) (*PendingTx, error)
	Confirm(ctx context.Context, pending *PendingTx) (*Confirmation, error)
	SponsorBalance(ctx context.Context) (*big.Int, error)
	SponsorConfigured() bool
}
