package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/drblury/obpflow/internal/runtime/ids"
	"github.com/drblury/obpflow/internal/runtime/telemetry"
)

// PaymentStatusCompleted is the only status the mock ledger reports.
const PaymentStatusCompleted = "COMPLETED"

// handlerSet serves the banking operations from the profile's synthetic data.
// Handlers never mutate shared state.
type handlerSet struct {
	profile   Profile
	telemetry *telemetry.Sink
	now       func() time.Time
	newTxID   func() string
}

func newHandlerSet(profile Profile, sink *telemetry.Sink) *handlerSet {
	return &handlerSet{
		profile:   profile,
		telemetry: sink,
		now:       time.Now,
		newTxID:   ids.NewTransactionID,
	}
}

func (h *handlerSet) routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		OpGetBank:             h.getBank,
		OpGetBanks:            h.getBanks,
		OpGetBankAccount:      h.getBankAccount,
		OpGetBankAccounts:     h.getBankAccounts,
		OpGetTransaction:      h.getTransaction,
		OpGetTransactions:     h.getTransactions,
		OpCheckFundsAvailable: h.checkFundsAvailable,
		OpMakePayment:         h.makePayment,
		OpGetAdapterInfo:      h.getAdapterInfo,
	}
}

func (h *handlerSet) ok(start time.Time, data map[string]any, text string) Result {
	return Success(data, BackendMessage{
		Source:   h.profile.Identity.Name,
		Status:   StatusSuccess,
		Text:     text,
		Duration: elapsedHint(h.now().Sub(start)),
	})
}

func (h *handlerSet) fail(code, message, errorCode string) Result {
	return Failure(code, message, BackendMessage{
		Source:    h.profile.Identity.Name,
		Status:    StatusError,
		ErrorCode: errorCode,
		Text:      message,
	})
}

func elapsedHint(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64) + "ms"
}

func (h *handlerSet) bankDescriptor() map[string]any {
	b := h.profile.Bank
	return map[string]any{
		"bankId":             b.ID,
		"shortName":          b.ShortName,
		"fullName":           b.FullName,
		"logoUrl":            b.LogoURL,
		"websiteUrl":         b.WebsiteURL,
		"bankRoutingScheme":  b.RoutingScheme,
		"bankRoutingAddress": b.RoutingAddress,
	}
}

func (h *handlerSet) getBank(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	bankID := payload.String("bankId", h.profile.Bank.ID)
	if bankID != h.profile.Bank.ID {
		return h.fail(CodeBankNotFound, "Bank not found", "BANK_NOT_FOUND")
	}
	return h.ok(start, h.bankDescriptor(), "bank "+bankID)
}

func (h *handlerSet) getBanks(_ context.Context, _ Payload, _ CallContext) Result {
	start := h.now()
	return h.ok(start, map[string]any{
		"banks": []any{h.bankDescriptor()},
	}, "1 bank")
}

func (h *handlerSet) iban(accountID string) string {
	return h.profile.IBANPrefix + accountNumber14(accountID)
}

func (h *handlerSet) account(bankID, accountID, label, kind, balance string) map[string]any {
	iban := h.iban(accountID)
	return map[string]any{
		"accountId": accountID,
		"bankId":    bankID,
		"label":     label,
		"number":    accountNumber14(accountID),
		"type":      kind,
		"iban":      iban,
		"balance": map[string]any{
			"currency": h.profile.Currency,
			"amount":   balance,
		},
		"accountRoutings": []any{
			map[string]any{"scheme": "IBAN", "address": iban},
		},
	}
}

func (h *handlerSet) getBankAccount(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	bankID := payload.String("bankId", h.profile.Bank.ID)
	accountID := payload.String("accountId", "unknown")
	data := h.account(bankID, accountID, "Checking Account", "CURRENT", h.profile.AvailableBalance)
	return h.ok(start, data, "account "+accountID)
}

func (h *handlerSet) getBankAccounts(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	bankID := payload.String("bankId", h.profile.Bank.ID)
	accounts := []any{
		h.account(bankID, "account-001", "Checking Account", "CURRENT", h.profile.AvailableBalance),
		h.account(bankID, "account-002", "Savings Account", "SAVINGS", h.profile.SavingsBalance),
	}
	return h.ok(start, map[string]any{"accounts": accounts}, "2 accounts")
}

type syntheticTransaction struct {
	id           string
	amount       string
	newBalance   string
	kind         string
	description  string
	posted       string
	counterparty string
	counterIBAN  string
}

var transactionHistory = []syntheticTransaction{
	{
		id:           "tx-001",
		amount:       "-150.00",
		newBalance:   "9850.00",
		kind:         "DEBIT",
		description:  "Office supplies",
		posted:       "2024-03-15T10:30:00Z",
		counterparty: "Acme Supplies GmbH",
		counterIBAN:  "DE44500105175407324931",
	},
	{
		id:           "tx-002",
		amount:       "2500.00",
		newBalance:   "10000.00",
		kind:         "CREDIT",
		description:  "Salary",
		posted:       "2024-03-01T08:00:00Z",
		counterparty: "Example Employer AG",
		counterIBAN:  "DE02120300000000202051",
	},
	{
		id:           "tx-003",
		amount:       "-42.50",
		newBalance:   "7500.00",
		kind:         "DEBIT",
		description:  "Grocery store",
		posted:       "2024-02-27T17:45:00Z",
		counterparty: "Fresh Market",
		counterIBAN:  "DE89370400440532013000",
	},
}

func (h *handlerSet) transaction(tx syntheticTransaction, transactionID, accountID string) map[string]any {
	return map[string]any{
		"transactionId": transactionID,
		"accountId":     accountID,
		"bankId":        h.profile.Bank.ID,
		"amount":        tx.amount,
		"currency":      h.profile.Currency,
		"type":          tx.kind,
		"description":   tx.description,
		"postedDate":    tx.posted,
		"completedDate": tx.posted,
		"newBalance":    tx.newBalance,
		"counterparty": map[string]any{
			"name": tx.counterparty,
			"iban": tx.counterIBAN,
		},
	}
}

func (h *handlerSet) getTransaction(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	transactionID := payload.String("transactionId", "unknown")
	accountID := payload.String("accountId", h.profile.DefaultAccountID)
	return h.ok(start, h.transaction(transactionHistory[0], transactionID, accountID), "transaction "+transactionID)
}

func (h *handlerSet) getTransactions(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	accountID := payload.String("accountId", h.profile.DefaultAccountID)
	items := make([]any, 0, len(transactionHistory))
	for _, tx := range transactionHistory {
		items = append(items, h.transaction(tx, tx.id, accountID))
	}
	return h.ok(start, map[string]any{"transactions": items}, fmt.Sprintf("%d transactions", len(items)))
}

func (h *handlerSet) checkFundsAvailable(_ context.Context, payload Payload, _ CallContext) Result {
	start := h.now()
	raw := payload.String("amount", "0")
	currency := payload.String("currency", h.profile.Currency)
	amount, err := parseAmount(raw)
	if err != nil {
		return h.fail(CodeInvalidAmount, "Invalid amount: "+raw, "INVALID_AMOUNT")
	}
	available, err := parseAmount(h.profile.AvailableBalance)
	if err != nil {
		return h.fail(CodeUnknownError, "Invalid available balance", "INTERNAL_ERROR")
	}
	return h.ok(start, map[string]any{
		"available":        amount.Cmp(available) <= 0,
		"amount":           raw,
		"currency":         currency,
		"availableBalance": h.profile.AvailableBalance,
	}, "funds check")
}

func (h *handlerSet) makePayment(_ context.Context, payload Payload, cc CallContext) Result {
	start := h.now()
	raw := payload.String("amount", "0")
	currency := payload.String("currency", h.profile.Currency)
	description := payload.String("description", "Payment")
	if _, err := parseAmount(raw); err != nil {
		return h.fail(CodeInvalidAmount, "Invalid amount: "+raw, "INVALID_AMOUNT")
	}
	txID := h.newTxID()
	h.telemetry.PaymentSucceeded(cc.CorrelationID, txID, raw, currency)
	return h.ok(start, map[string]any{
		"transactionId": txID,
		"status":        PaymentStatusCompleted,
		"amount":        raw,
		"currency":      currency,
		"description":   description,
		"fromAccountId": payload.String("fromAccountId", ""),
		"toAccountId":   payload.String("toAccountId", ""),
		"createdAt":     start.UTC().Format(time.RFC3339),
	}, "payment "+txID)
}

func (h *handlerSet) getAdapterInfo(_ context.Context, _ Payload, _ CallContext) Result {
	start := h.now()
	return h.ok(start, h.adapterInfo(), "adapter info")
}

func (h *handlerSet) adapterInfo() map[string]any {
	supported := SupportedOperations()
	ops := make([]any, len(supported))
	for i, op := range supported {
		ops[i] = op
	}
	return map[string]any{
		"name":                h.profile.Identity.Name,
		"version":             h.profile.Identity.Version,
		"description":         h.profile.Identity.Description,
		"bankId":              h.profile.Bank.ID,
		"bankName":            h.profile.Bank.FullName,
		"supportedOperations": ops,
	}
}
