package obpflow

import (
	"context"

	"github.com/drblury/obpflow/internal/adapter"
	"github.com/drblury/obpflow/internal/app"
	configpkg "github.com/drblury/obpflow/internal/runtime/config"
	errspkg "github.com/drblury/obpflow/internal/runtime/errors"
	idspkg "github.com/drblury/obpflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/obpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/obpflow/internal/runtime/metadata"
	"github.com/drblury/obpflow/internal/runtime/telemetry"
	"github.com/drblury/obpflow/transport"
)

type (
	Config = configpkg.Config

	Result           = adapter.Result
	ResultKind       = adapter.Kind
	BackendMessage   = adapter.BackendMessage
	CallContext      = adapter.CallContext
	Payload          = adapter.Payload
	Request          = adapter.Request
	HandlerFunc      = adapter.HandlerFunc
	Dispatcher       = adapter.Dispatcher
	DispatcherOption = adapter.Option
	Profile          = adapter.Profile
	Identity         = adapter.Identity
	Bank             = adapter.Bank

	TelemetrySink    = telemetry.Sink
	TelemetryOptions = telemetry.Options
	TelemetryEvent   = telemetry.Event

	Metadata      = metadatapkg.Metadata
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportCapabilities = transport.Capabilities
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	Success             = adapter.Success
	Failure             = adapter.Failure
	TransientFailure    = adapter.TransientFailure
	DecodeRequest       = adapter.DecodeRequest
	CallContextFrom     = adapter.CallContextFrom
	NewDispatcher       = adapter.NewDispatcher
	WithHandler         = adapter.WithHandler
	DefaultProfile      = adapter.DefaultProfile
	LoadProfile         = adapter.LoadProfile
	SupportedOperations = adapter.SupportedOperations

	NewTelemetrySink = telemetry.New

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	RegisterTransport = transport.Register
	BuildTransport    = transport.Build
	TransportNames    = transport.Names

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	CreateULID       = idspkg.CreateULID
	NewTransactionID = idspkg.NewTransactionID

	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrDispatcherRequired      = errspkg.ErrDispatcherRequired
	ErrCounterStoreUnavailable = errspkg.ErrCounterStoreUnavailable
)

// Operation names carried in the "process" field.
const (
	OpGetBank             = adapter.OpGetBank
	OpGetBanks            = adapter.OpGetBanks
	OpGetBankAccount      = adapter.OpGetBankAccount
	OpGetBankAccounts     = adapter.OpGetBankAccounts
	OpGetTransaction      = adapter.OpGetTransaction
	OpGetTransactions     = adapter.OpGetTransactions
	OpCheckFundsAvailable = adapter.OpCheckFundsAvailable
	OpMakePayment         = adapter.OpMakePayment
	OpGetAdapterInfo      = adapter.OpGetAdapterInfo
	OpCheckHealth         = adapter.OpCheckHealth
)

// Error codes of failure results.
const (
	CodeBankNotFound   = adapter.CodeBankNotFound
	CodeNotImplemented = adapter.CodeNotImplemented
	CodeUnknownError   = adapter.CodeUnknownError
	CodeInvalidAmount  = adapter.CodeInvalidAmount
	CodeInvalidJSON    = adapter.CodeInvalidJSON
)

// Metadata keys set on every reply.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyOperation     = metadatapkg.KeyOperation
	MetadataKeyResultKind    = metadatapkg.KeyResultKind
	MetadataKeyInReplyTo     = metadatapkg.KeyInReplyTo
)

// Main runs the adapter process until ctx is cancelled and returns its exit
// code: 0 after a graceful shutdown, 1 after a fatal error.
func Main(ctx context.Context) int {
	return app.Main(ctx)
}
