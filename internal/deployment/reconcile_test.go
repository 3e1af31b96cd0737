package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/popdeploy/internal/registry"
)

func TestReconcile(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.ConfirmationTimeout = 20 * time.Millisecond
		c.ConfirmationThreshold = 2
	})
	env.chain.SetAutoMine(false)
	ctx := context.Background()

	for _, name := range []string{"Mined", "Evicted"} {
		_, err := env.deployer.Deploy(ctx, request(name))
		var timeoutErr *ConfirmationTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
	}
	evicted, err := env.registry.Lookup(ctx, ganacheNetwork, "Evicted")
	require.NoError(t, err)

	env.chain.Drop(evicted.TxHash)
	env.chain.Mine()

	actions := func() map[string]ReconcileAction {
		results, err := env.deployer.Reconcile(ctx, ganacheNetwork)
		require.NoError(t, err)
		out := make(map[string]ReconcileAction)
		for _, r := range results {
			out[r.Key] = r.Action
		}
		return out
	}
	minedKey := registry.Key(ganacheNetwork, "Mined")
	evictedKey := registry.Key(ganacheNetwork, "Evicted")

	// One confirmation of two; the evicted transaction is sent again.
	got := actions()
	assert.Equal(t, ActionPending, got[minedKey])
	assert.Equal(t, ActionRebroadcast, got[evictedKey])
	assert.Equal(t, 3, env.chain.SendCount())

	env.chain.AdvanceBlocks(1)
	got = actions()
	assert.Equal(t, ActionConfirmed, got[minedKey])
	assert.Equal(t, ActionPending, got[evictedKey])

	env.chain.Mine()
	env.chain.AdvanceBlocks(1)
	got = actions()
	assert.NotContains(t, got, minedKey)
	assert.Equal(t, ActionConfirmed, got[evictedKey])

	rec, err := env.registry.Lookup(ctx, ganacheNetwork, "Evicted")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusConfirmed, rec.Status)
	assert.Equal(t, evicted.TxHash, rec.TxHash)

	_, err = env.deployer.Reconcile(ctx, "mainnet")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestReconcile_SettlesMinedAndDropped(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.ConfirmationTimeout = 20 * time.Millisecond })
	env.chain.SetAutoMine(false)
	ctx := context.Background()

	_, err := env.deployer.Deploy(ctx, request("Mined"))
	require.Error(t, err)
	env.chain.Mine()

	_, err = env.deployer.Deploy(ctx, request("Lost"))
	require.Error(t, err)
	lost, err := env.registry.Lookup(ctx, ganacheNetwork, "Lost")
	require.NoError(t, err)
	env.chain.Drop(lost.TxHash)
	env.chain.SetAccountNonce(ganacheAccount, lost.Nonce+3)

	results, err := env.deployer.Reconcile(ctx, ganacheNetwork)
	require.NoError(t, err)
	require.Len(t, results, 2)

	actions := map[string]ReconcileAction{}
	for _, r := range results {
		actions[r.Key] = r.Action
	}
	assert.Equal(t, ActionConfirmed, actions[registry.Key(ganacheNetwork, "Mined")])
	assert.Equal(t, ActionDropped, actions[registry.Key(ganacheNetwork, "Lost")])

	rec, err := env.registry.Lookup(ctx, ganacheNetwork, "Lost")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, rec.Status)

	net, err := env.deployer.Network(ganacheNetwork)
	require.NoError(t, err)
	next, ok := net.Nonces.Next(ganacheAccount)
	require.True(t, ok)
	assert.Equal(t, lost.Nonce+3, next, "nonce count reloaded after the drop")

	// Nothing pending remains.
	results, err = env.deployer.Reconcile(ctx, ganacheNetwork)
	require.NoError(t, err)
	assert.Empty(t, results)
}
