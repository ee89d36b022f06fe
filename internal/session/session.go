// Package session binds a user to the wallet that signs for them.
package session

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/songzhibin97/ammswap/internal/chain"
	"github.com/songzhibin97/ammswap/internal/errs"
)

// Session is an authenticated user with a connected signer. Swaps never run without one.
type Session struct {
	UserID  string
	signer  chain.Signer
	address common.Address
}

// Connect resolves the signer address once and returns a usable session.
func Connect(ctx context.Context, userID string, signer chain.Signer) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errs.New(errs.WalletNotConnected, "session.connect", "no user")
	}
	if signer == nil {
		return nil, errs.New(errs.WalletNotConnected, "session.connect", "no signer for user %s", userID)
	}
	addr, err := signer.Address(ctx)
	if err != nil {
		return nil, errs.E(errs.WalletNotConnected, "session.connect", err)
	}
	if addr == (common.Address{}) {
		return nil, errs.New(errs.WalletNotConnected, "session.connect", "signer has no address")
	}
	return &Session{UserID: userID, signer: signer, address: addr}, nil
}

// Require returns WalletNotConnected unless s is a connected session.
func Require(s *Session) error {
	if s == nil || s.signer == nil || s.UserID == "" {
		return errs.New(errs.WalletNotConnected, "session.require", "wallet not connected")
	}
	return nil
}

func (s *Session) Address() common.Address { return s.address }

func (s *Session) Signer() chain.Signer { return s.signer }
