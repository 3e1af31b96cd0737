package chain

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

// Signer signs transactions on behalf of deployer accounts.
type Signer interface {
	// SignTx signs tx as from. Returns ErrUnknownAccount when the signer
	// holds no key for from.
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error)

	// Addresses lists the accounts this signer can sign for.
	Addresses(ctx context.Context) ([]common.Address, error)
}

// LocalSigner signs with a single in-memory private key.
// Use for local development networks only.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key.
// A leading "0x" is accepted.
func NewLocalSigner(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the signer's account.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	if from != s.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, from.Hex())
	}
	return signWithKey(tx, s.chainID, s.privateKey)
}

func (s *LocalSigner) Addresses(ctx context.Context) ([]common.Address, error) {
	return []common.Address{s.address}, nil
}

func signWithKey(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

var _ Signer = (*LocalSigner)(nil)
