package chain_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy/internal/chain"
	"github.com/Bidon15/popdeploy/internal/chain/chaintest"
)

func TestVerifyChainID(t *testing.T) {
	fake := chaintest.NewFakeChain(1337)

	id, err := chain.VerifyChainID(context.Background(), fake, 1337)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())

	id, err = chain.VerifyChainID(context.Background(), fake, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), id.Int64())

	_, err = chain.VerifyChainID(context.Background(), fake, 31337)
	assert.ErrorIs(t, err, chain.ErrChainIDMismatch)
}

func TestNewDialer(t *testing.T) {
	for _, backend := range []string{"", chain.BackendEthclient, chain.BackendW3} {
		d, err := chain.NewDialer(backend)
		require.NoError(t, err, backend)
		assert.NotNil(t, d)
	}

	_, err := chain.NewDialer("grpc")
	assert.Error(t, err)
}
