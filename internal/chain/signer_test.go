package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func creationTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(20_000_000_000),
		Gas:      6721975,
		Data:     []byte{0x60, 0x80, 0x60, 0x40},
	})
}

func TestLocalSigner(t *testing.T) {
	chainID := big.NewInt(1337)
	signer, err := NewLocalSigner("0x"+GanachePrivateKeys[0], chainID)
	require.NoError(t, err)

	want := common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	assert.Equal(t, want, signer.Address())

	signed, err := signer.SignTx(context.Background(), want, creationTx(0))
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, want, from)

	_, err = signer.SignTx(context.Background(), common.HexToAddress("0x01"), creationTx(0))
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestLocalSigner_InvalidKey(t *testing.T) {
	_, err := NewLocalSigner("not-hex", big.NewInt(1337))
	assert.Error(t, err)
}

func TestDevSigner(t *testing.T) {
	tests := []struct {
		name    string
		chainID int64
		wantErr bool
	}{
		{"ganache", 1337, false},
		{"anvil", 31337, false},
		{"mainnet", 1, true},
		{"base", 8453, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewDevSigner(big.NewInt(tt.chainID))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProductionChainID)
				return
			}
			require.NoError(t, err)

			addrs, err := signer.Addresses(context.Background())
			require.NoError(t, err)
			require.Len(t, addrs, len(GanachePrivateKeys)+len(AnvilPrivateKeys))
			assert.Equal(t, common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"), addrs[0])
			assert.True(t, signer.HasKey(common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")))
		})
	}
}

func TestDevSigner_SignsForEveryAccount(t *testing.T) {
	chainID := big.NewInt(31337)
	signer, err := NewDevSigner(chainID)
	require.NoError(t, err)

	addrs, err := signer.Addresses(context.Background())
	require.NoError(t, err)

	for _, addr := range addrs {
		signed, err := signer.SignTx(context.Background(), addr, creationTx(3))
		require.NoError(t, err)
		from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, addr, from)
	}

	_, err = signer.SignTx(context.Background(), common.HexToAddress("0xdead"), creationTx(0))
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		msg          string
		nonce, known bool
		reverted     bool
	}{
		{msg: "nonce too low: next nonce 5, tx nonce 4", nonce: true},
		{msg: "the tx doesn't have the correct nonce. account has nonce of: 2 tx has nonce of: 1", nonce: true},
		{msg: "replacement transaction underpriced", nonce: true},
		{msg: "already known", known: true},
		{msg: "Known transaction: 0xabc", known: true},
		{msg: "execution reverted: Ownable: caller is not the owner", reverted: true},
		{msg: "VM Exception while processing transaction: revert", reverted: true},
		{msg: "insufficient funds for gas * price + value"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := msgError(tt.msg)
			assert.Equal(t, tt.nonce, IsNonceConflict(err))
			assert.Equal(t, tt.known, IsAlreadyKnown(err))
			assert.Equal(t, tt.reverted, IsReverted(err))
		})
	}

	assert.False(t, IsNonceConflict(nil))
}

type msgError string

func (e msgError) Error() string { return string(e) }
