package adapter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/obpflow/internal/runtime/ids"
	"github.com/drblury/obpflow/internal/runtime/telemetry"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *telemetry.Sink) {
	t.Helper()
	sink := telemetry.New(telemetry.Options{})
	return NewDispatcher(DefaultProfile(), sink), sink
}

func eventNames(events []telemetry.Event) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func dispatch(t *testing.T, d *Dispatcher, op string, payload Payload) Result {
	t.Helper()
	return d.Dispatch(context.Background(), op, payload, CallContext{CorrelationID: "corr-test"})
}

func TestDispatchGetBankOwnBank(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetBank, Payload{"bankId": "mybank-01"})

	require.True(t, result.IsSuccess())
	assert.Equal(t, "mybank-01", result.Data()["bankId"])
	assert.Equal(t, "BIC", result.Data()["bankRoutingScheme"])
	require.Len(t, result.Messages(), 1)
	msg := result.Messages()[0]
	assert.Equal(t, "obp-mock-adapter", msg.Source)
	assert.Equal(t, StatusSuccess, msg.Status)
	assert.NotEmpty(t, msg.Duration)
}

func TestDispatchGetBankDefaultsToOwnBank(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.True(t, dispatch(t, d, OpGetBank, nil).IsSuccess())
}

func TestDispatchGetBankOtherBank(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetBank, Payload{"bankId": "other-bank"})

	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeBankNotFound, result.Code())
	assert.Equal(t, "Bank not found", result.Message())
}

func TestDispatchUnknownOperation(t *testing.T) {
	d, sink := newTestDispatcher(t)

	result := dispatch(t, d, "obp.unknownThing", Payload{})

	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeNotImplemented, result.Code())
	assert.Equal(t, "Message type not implemented: obp.unknownThing", result.Message())
	require.Len(t, result.Messages(), 1)
	assert.Equal(t, StatusError, result.Messages()[0].Status)
	assert.Equal(t, "NOT_IMPLEMENTED", result.Messages()[0].ErrorCode)

	assert.Equal(t, []string{telemetry.EventDispatch, telemetry.EventUnsupportedOperation}, eventNames(sink.Recent()))
	assert.Equal(t, telemetry.LevelWarn, sink.Recent()[1].Level)
}

func TestDispatchRecordsTelemetryBeforeHandler(t *testing.T) {
	d, sink := newTestDispatcher(t)
	var seen []string
	d.registry = NewRegistry(map[string]HandlerFunc{
		"obp.probe": func(context.Context, Payload, CallContext) Result {
			seen = eventNames(sink.Recent())
			return Success(nil)
		},
	})

	result := dispatch(t, d, "obp.probe", nil)

	require.True(t, result.IsSuccess())
	assert.Equal(t, []string{telemetry.EventDispatch}, seen)
	first := sink.Recent()[0]
	assert.Equal(t, telemetry.LevelDebug, first.Level)
	assert.Equal(t, "obp.probe", first.Operation)
	assert.Equal(t, "corr-test", first.CorrelationID)
	assert.Equal(t, telemetry.EventDispatchDone, sink.Recent()[1].Name)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	d, sink := newTestDispatcher(t)
	d.registry = NewRegistry(map[string]HandlerFunc{
		"obp.explode": func(context.Context, Payload, CallContext) Result {
			panic("boom")
		},
	})

	result := dispatch(t, d, "obp.explode", nil)

	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeUnknownError, result.Code())
	assert.Contains(t, eventNames(sink.Recent()), telemetry.EventHandlerPanic)
}

func TestDispatchRejectsZeroResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.registry = NewRegistry(map[string]HandlerFunc{
		"obp.empty": func(context.Context, Payload, CallContext) Result { return Result{} },
	})

	result := dispatch(t, d, "obp.empty", nil)
	assert.Equal(t, KindError, result.Kind())
	assert.Equal(t, CodeUnknownError, result.Code())
}

func TestCheckHealth(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }

	result := dispatch(t, d, OpCheckHealth, nil)

	require.True(t, result.IsSuccess())
	data := result.Data()
	assert.Equal(t, HealthStatusHealthy, data["status"])
	assert.Equal(t, "obp-mock-adapter", data["adapter"])
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "2024-05-01T10:00:00Z", data["timestamp"])
	assert.NotEmpty(t, data["message"])
}

func TestGetBanksReturnsSingleton(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetBanks, nil)

	require.True(t, result.IsSuccess())
	banks := result.Data()["banks"].([]any)
	require.Len(t, banks, 1)
	assert.Equal(t, "mybank-01", banks[0].(map[string]any)["bankId"])
}

func TestGetBankAccountDerivesIBAN(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cases := map[string]string{
		"42":                  "DE8937040000000000000042",
		"1234567890123456789": "DE8937040012345678901234",
	}
	for accountID, iban := range cases {
		result := dispatch(t, d, OpGetBankAccount, Payload{"accountId": accountID})
		require.True(t, result.IsSuccess())
		assert.Equal(t, iban, result.Data()["iban"], accountID)
		assert.Equal(t, accountID, result.Data()["accountId"])
	}

	unknown := dispatch(t, d, OpGetBankAccount, nil)
	assert.Equal(t, "unknown", unknown.Data()["accountId"])
	assert.Equal(t, "DE89370400"+"0000000unknown", unknown.Data()["iban"])
	balance := unknown.Data()["balance"].(map[string]any)
	assert.Equal(t, "10000.00", balance["amount"])
	assert.Equal(t, "EUR", balance["currency"])
}

func TestGetBankAccountsReturnsCheckingAndSavings(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetBankAccounts, Payload{"bankId": "mybank-01"})

	require.True(t, result.IsSuccess())
	accounts := result.Data()["accounts"].([]any)
	require.Len(t, accounts, 2)
	first := accounts[0].(map[string]any)["balance"].(map[string]any)["amount"]
	second := accounts[1].(map[string]any)["balance"].(map[string]any)["amount"]
	assert.Equal(t, "10000.00", first)
	assert.Equal(t, "25000.00", second)
}

func TestGetTransactionDefaults(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetTransaction, Payload{"transactionId": "tx-77"})

	require.True(t, result.IsSuccess())
	assert.Equal(t, "tx-77", result.Data()["transactionId"])
	assert.Equal(t, "account-001", result.Data()["accountId"])
	assert.Equal(t, "DEBIT", result.Data()["type"])
	assert.NotEmpty(t, result.Data()["counterparty"])
}

func TestGetTransactionsNewestFirst(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetTransactions, Payload{"accountId": "account-002"})

	require.True(t, result.IsSuccess())
	items := result.Data()["transactions"].([]any)
	require.Len(t, items, 3)
	var kinds, amounts, dates []string
	for _, item := range items {
		tx := item.(map[string]any)
		kinds = append(kinds, tx["type"].(string))
		amounts = append(amounts, tx["amount"].(string))
		dates = append(dates, tx["postedDate"].(string))
		assert.Equal(t, "account-002", tx["accountId"])
	}
	assert.Equal(t, []string{"DEBIT", "CREDIT", "DEBIT"}, kinds)
	assert.Equal(t, []string{"-150.00", "2500.00", "-42.50"}, amounts)
	assert.True(t, dates[0] > dates[1] && dates[1] > dates[2])
}

func TestCheckFundsAvailableBoundary(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cases := []struct {
		amount    any
		available bool
	}{
		{"10000.00", true},
		{"10000", true},
		{"10000.01", false},
		{"0", true},
		{"-5", true},
		{"99999", false},
	}
	for _, tc := range cases {
		result := dispatch(t, d, OpCheckFundsAvailable, Payload{"amount": tc.amount, "currency": "EUR"})
		require.True(t, result.IsSuccess(), tc.amount)
		assert.Equal(t, tc.available, result.Data()["available"], tc.amount)
		assert.Equal(t, tc.amount, result.Data()["amount"])
		assert.Equal(t, "EUR", result.Data()["currency"])
		assert.Equal(t, "10000.00", result.Data()["availableBalance"])
	}
}

func TestCheckFundsAvailableDefaults(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpCheckFundsAvailable, nil)

	require.True(t, result.IsSuccess())
	assert.Equal(t, true, result.Data()["available"])
	assert.Equal(t, "0", result.Data()["amount"])
	assert.Equal(t, "EUR", result.Data()["currency"])
}

func TestMalformedAmountBecomesFailure(t *testing.T) {
	d, _ := newTestDispatcher(t)
	for _, op := range []string{OpCheckFundsAvailable, OpMakePayment} {
		result := dispatch(t, d, op, Payload{"amount": "ten euros"})
		require.False(t, result.IsSuccess(), op)
		assert.Equal(t, CodeInvalidAmount, result.Code(), op)
		assert.Contains(t, result.Message(), "ten euros")
	}
}

func TestNonDecimalAmountLiteralsAreRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	for _, raw := range []string{"0x2710", "0b1", "1_000", "1e999999"} {
		for _, op := range []string{OpCheckFundsAvailable, OpMakePayment} {
			result := dispatch(t, d, op, Payload{"amount": raw})
			require.False(t, result.IsSuccess(), "%s %s", op, raw)
			assert.Equal(t, CodeInvalidAmount, result.Code(), "%s %s", op, raw)
		}
	}
}

func TestMakePaymentCompletesAndRecordsTelemetry(t *testing.T) {
	d, sink := newTestDispatcher(t)

	result := dispatch(t, d, OpMakePayment, Payload{"amount": "12.34", "currency": "EUR"})

	require.True(t, result.IsSuccess())
	data := result.Data()
	assert.Equal(t, PaymentStatusCompleted, data["status"])
	assert.Equal(t, "Payment", data["description"])
	txID := data["transactionId"].(string)
	_, err := ids.TransactionTime(txID)
	require.NoError(t, err)

	var payment *telemetry.Event
	for _, ev := range sink.Recent() {
		if ev.Name == telemetry.EventPaymentSucceeded {
			payment = &ev
		}
	}
	require.NotNil(t, payment)
	assert.Equal(t, txID, payment.Fields["transaction_id"])
	assert.Equal(t, "corr-test", payment.CorrelationID)
}

func TestMakePaymentTransactionIDsAreUnique(t *testing.T) {
	d, _ := newTestDispatcher(t)
	const workers, perWorker = 8, 50

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				result := d.Dispatch(context.Background(), OpMakePayment, Payload{"amount": "1.00"}, CallContext{})
				mu.Lock()
				seen[result.Data()["transactionId"].(string)] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestGetAdapterInfoListsSupportedOperations(t *testing.T) {
	d, _ := newTestDispatcher(t)

	result := dispatch(t, d, OpGetAdapterInfo, nil)

	require.True(t, result.IsSuccess())
	assert.Equal(t, "obp-mock-adapter", result.Data()["name"])
	ops := result.Data()["supportedOperations"].([]any)
	assert.Len(t, ops, len(SupportedOperations()))
	assert.Equal(t, d.AdapterInfo(), result.Data())
}

func TestHandleUsesDecodedRequest(t *testing.T) {
	d, _ := newTestDispatcher(t)
	req, err := DecodeRequest([]byte(`{"process":"obp.getBank","outboundAdapterCallContext":{"correlationId":"c-1"},"bankId":"other-bank"}`))
	require.NoError(t, err)

	result := d.Handle(context.Background(), req)
	assert.Equal(t, CodeBankNotFound, result.Code())
}

func TestWithHandlerOverridesRoute(t *testing.T) {
	backend := func(_ context.Context, payload Payload, _ CallContext) Result {
		return TransientFailure(CodeUnknownError, "backend unavailable for "+payload.String("bankId", ""))
	}
	d := NewDispatcher(DefaultProfile(), nil,
		WithHandler(OpGetBank, backend),
		WithHandler(OpCheckHealth, backend),
	)

	r := dispatch(t, d, OpGetBank, Payload{"bankId": "mybank-01"})
	assert.True(t, r.Transient())
	assert.Equal(t, "backend unavailable for mybank-01", r.Message())

	assert.True(t, dispatch(t, d, OpGetBanks, Payload{}).IsSuccess(), "other routes keep the built-in handlers")
	assert.True(t, dispatch(t, d, OpCheckHealth, Payload{}).IsSuccess())
}
