package adapter

import (
	"context"
	"sort"
)

// Operation names understood by the adapter.
const (
	OpGetBank             = "obp.getBank"
	OpGetBanks            = "obp.getBanks"
	OpGetBankAccount      = "obp.getBankAccount"
	OpGetBankAccounts     = "obp.getBankAccounts"
	OpGetTransaction      = "obp.getTransaction"
	OpGetTransactions     = "obp.getTransactions"
	OpCheckFundsAvailable = "obp.checkFundsAvailable"
	OpMakePayment         = "obp.makePayment"
	OpGetAdapterInfo      = "obp.getAdapterInfo"
	OpCheckHealth         = "obp.checkHealth"
)

// HandlerFunc serves one operation. It must return exactly one Result variant.
type HandlerFunc func(ctx context.Context, payload Payload, cc CallContext) Result

// SupportedOperations lists the banking operations advertised by
// obp.getAdapterInfo.
func SupportedOperations() []string {
	return []string{
		OpGetBank,
		OpGetBanks,
		OpGetBankAccount,
		OpGetBankAccounts,
		OpGetTransaction,
		OpGetTransactions,
		OpCheckFundsAvailable,
		OpMakePayment,
	}
}

// Registry maps operation names to handlers. It is immutable once built.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry copies handlers into a new Registry. Nil handlers are skipped.
func NewRegistry(handlers map[string]HandlerFunc) *Registry {
	copied := make(map[string]HandlerFunc, len(handlers))
	for name, fn := range handlers {
		if fn == nil {
			continue
		}
		copied[name] = fn
	}
	return &Registry{handlers: copied}
}

func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
