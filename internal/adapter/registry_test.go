package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedOperationsIsTheBankingSet(t *testing.T) {
	assert.Equal(t, []string{
		"obp.getBank",
		"obp.getBanks",
		"obp.getBankAccount",
		"obp.getBankAccounts",
		"obp.getTransaction",
		"obp.getTransactions",
		"obp.checkFundsAvailable",
		"obp.makePayment",
	}, SupportedOperations())
}

func TestRegistryLookupAndNames(t *testing.T) {
	noop := func(context.Context, Payload, CallContext) Result { return Success(nil) }
	handlers := map[string]HandlerFunc{
		"obp.b":    noop,
		"obp.a":    noop,
		"obp.skip": nil,
	}
	r := NewRegistry(handlers)

	handlers["obp.c"] = noop

	assert.Equal(t, []string{"obp.a", "obp.b"}, r.Names())
	fn, ok := r.Lookup("obp.a")
	require.True(t, ok)
	assert.True(t, fn(context.Background(), nil, CallContext{}).IsSuccess())

	_, ok = r.Lookup("obp.skip")
	assert.False(t, ok)
	_, ok = r.Lookup("obp.c")
	assert.False(t, ok)
}

func TestDispatcherRegistryCoversSupportedOperations(t *testing.T) {
	d := NewDispatcher(DefaultProfile(), nil)
	for _, op := range SupportedOperations() {
		_, ok := d.Registry().Lookup(op)
		assert.True(t, ok, op)
	}
	_, ok := d.Registry().Lookup(OpGetAdapterInfo)
	assert.True(t, ok)
	_, ok = d.Registry().Lookup(OpCheckHealth)
	assert.False(t, ok, "health is served outside the registry")
}
