package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/models"
)

func TestRegistryRegisterAndOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubConnector("steam"), 0))
	require.NoError(t, reg.Register(stubConnector("Skinport"), 0.7))
	require.NoError(t, reg.Register(stubConnector("buff"), 0))

	assert.Equal(t, []string{"steam", "skinport", "buff"}, reg.Names())

	conns := reg.Connectors()
	require.Len(t, conns, 3)
	assert.Equal(t, "Skinport", conns[1].Name())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubConnector("steam"), 0))

	err := reg.Register(stubConnector("STEAM"), 0)
	assert.ErrorIs(t, err, ErrConnectorExists)

	assert.ErrorIs(t, reg.Register(stubConnector("  "), 0), ErrConnectorUnnamed)
	assert.Len(t, reg.Names(), 1)
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubConnector("a"), 0))
	require.NoError(t, reg.Register(stubConnector("b"), 0))
	require.NoError(t, reg.Register(stubConnector("c"), 0))

	assert.True(t, reg.Unregister("B"))
	assert.False(t, reg.Unregister("b"))
	assert.Equal(t, []string{"a", "c"}, reg.Names())

	require.NoError(t, reg.Register(stubConnector("b"), 0))
	assert.Equal(t, []string{"a", "c", "b"}, reg.Names())
}

func TestRegistryReputation(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stubConnector("steam"), 0))
	require.NoError(t, reg.RegisterMarketplace(stubConnector("shop"), models.Marketplace{
		Name: "shop", Kind: models.KindStatic, Reputation: 0.65,
	}))

	_, ok := reg.Reputation("steam")
	assert.False(t, ok)

	r, ok := reg.Reputation("SHOP")
	assert.True(t, ok)
	assert.Equal(t, 0.65, r)

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].Definition)
	require.NotNil(t, entries[1].Definition)
	assert.Equal(t, models.KindStatic, entries[1].Definition.Kind)
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register(stubConnector(string(rune('a'+i))), 0)
		}()
		go func() {
			defer wg.Done()
			_ = reg.Connectors()
			_, _ = reg.Reputation("a")
		}()
	}
	wg.Wait()
	assert.Len(t, reg.Names(), 20)
}
