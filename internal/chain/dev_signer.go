package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// GanachePrivateKeys are the accounts Ganache creates with --deterministic,
// derived from "myth like bonus scare over problem client lizard pioneer
// submit female collect".
//
// These keys are publicly known. Anything sent to them on a real network is lost.
var GanachePrivateKeys = []string{
	"4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d", // 0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1
	"6cbed15c793ce57650b9877cf6fa156fbef513c4e6134f022a85b1ffdd59b2a1", // 0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0
	"6370fd033278c143179d81c5526140625662b8daa446c22ee2d73db3707e620c", // 0x22d491Bde2303f2f43325b2108D26f1eAbA1e32b
	"646f1ce2fdad0e6deeeb5c7e8e5543bdde65e86029e2fd9fc169899c440a7913", // 0xE11BA2b4D45Eaed5996Cd0823791E0C93114882d
	"add53f9a7e588d003326d1cbf9e4a43c061aadd9bc938c843a79e7b4fd2ad743", // 0xd03ea8624C8C5987235048901fB614fDcA89b117
	"395df67f0c2d2d9fe1ad08d1bc8b6627011959b79c53d7dd6a3536a33ab8a4fd", // 0x95cED938F7991cd0dFcb48F0a06a40FA1aF46EBC
	"e485d098507f54e7733a205420dfddbe58db035fa577fc294ebd14db90767a52", // 0x3E5e9111Ae8eB78Fe1CC3bb8915d5D461F3Ef9A9
	"a453611d9419d0e56f499079478fd72c37b251a94bfde4d19872c44cf65386e3", // 0x28a8746e75304c0780E011BEd21C72cD78cd535E
	"829e924fdf021ba3dbbc4225edfece9aca04b929d6e75613329ca6f1d31c0bb4", // 0xACa94ef8bD5ffEE41947b4585a84BdA5a3d3DA6E
	"b0057716d5917badaf911b193b12b910811c1497b5bada8d7711f758981c3773", // 0x1dF62f291b2E969fB0849d99D9Ce41e2F137006e
}

// AnvilPrivateKeys are Anvil's default accounts, derived from
// "test test test test test test test test test test test junk".
//
// These keys are publicly known. Anything sent to them on a real network is lost.
var AnvilPrivateKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", // 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", // 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a", // 0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6", // 0x90F79bf6EB2c4f870365E785982E1f101E93b906
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a", // 0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65
}

// productionChainIDs are networks where dev keys must never sign.
var productionChainIDs = map[int64]string{
	1:     "Ethereum Mainnet",
	10:    "Optimism",
	56:    "BNB Smart Chain",
	137:   "Polygon",
	8453:  "Base",
	42161: "Arbitrum One",
}

// DevSigner signs with the well-known Ganache and Anvil development keys.
// Safe for concurrent use after construction.
type DevSigner struct {
	keys    map[common.Address]*ecdsa.PrivateKey
	order   []common.Address
	chainID *big.Int
}

// NewDevSigner loads the Ganache keys followed by the Anvil keys.
// Returns an error wrapping ErrProductionChainID if chainID is a known
// production network.
func NewDevSigner(chainID *big.Int) (*DevSigner, error) {
	if chainID.IsInt64() {
		if name, ok := productionChainIDs[chainID.Int64()]; ok {
			return nil, fmt.Errorf("%w: %s (chain_id=%s)", ErrProductionChainID, name, chainID)
		}
	}

	all := make([]string, 0, len(GanachePrivateKeys)+len(AnvilPrivateKeys))
	all = append(all, GanachePrivateKeys...)
	all = append(all, AnvilPrivateKeys...)

	s := &DevSigner{
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(all)),
		order:   make([]common.Address, 0, len(all)),
		chainID: chainID,
	}
	for _, hexKey := range all {
		privateKey, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		s.keys[address] = privateKey
		s.order = append(s.order, address)
	}
	return s, nil
}

// HasKey returns true if the signer holds a key for addr.
func (s *DevSigner) HasKey(addr common.Address) bool {
	_, ok := s.keys[addr]
	return ok
}

func (s *DevSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	privateKey, ok := s.keys[from]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a dev account", ErrUnknownAccount, from.Hex())
	}
	return signWithKey(tx, s.chainID, privateKey)
}

// Addresses returns the Ganache accounts in index order, then the Anvil ones.
func (s *DevSigner) Addresses(ctx context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(s.order))
	copy(out, s.order)
	return out, nil
}

var _ Signer = (*DevSigner)(nil)
