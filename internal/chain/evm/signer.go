package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyedSigner signs with a locally held key. It exists for operator tooling; the swap core
// only ever sees the chain.Signer interface.
type KeyedSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeyedSigner(hexKey string) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}
	return &KeyedSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeyedSigner) Address(ctx context.Context) (common.Address, error) {
	return s.address, nil
}

func (s *KeyedSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
