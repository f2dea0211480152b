package adapter

import (
	"errors"

	jsoncodec "github.com/drblury/obpflow/internal/runtime/jsoncodec"
)

// Error codes carried by Failure results.
const (
	CodeInvalidJSON    = "OBP-10001"
	CodeInvalidAmount  = "OBP-10003"
	CodeBankNotFound   = "OBP-30001"
	CodeNotImplemented = "OBP-50000"
	CodeUnknownError   = "OBP-50001"
)

// BackendMessage statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Kind discriminates the two Result variants.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return "invalid"
	}
}

// BackendMessage is an audit record of one backend interaction. It is purely
// informational.
type BackendMessage struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
	Text      string `json:"text"`
	Duration  string `json:"duration,omitempty"`
}

// Result is the outcome of one operation: either Success carrying data or
// Failure carrying a namespaced code. Messages is never nil.
type Result struct {
	kind      Kind
	data      map[string]any
	code      string
	message   string
	messages  []BackendMessage
	transient bool
}

// Success builds the success variant.
func Success(data map[string]any, messages ...BackendMessage) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{kind: KindSuccess, data: data, messages: normalizeMessages(messages)}
}

// Failure builds the error variant.
func Failure(code, message string, messages ...BackendMessage) Result {
	return Result{kind: KindError, code: code, message: message, messages: normalizeMessages(messages)}
}

// TransientFailure builds an error variant for a backend that is temporarily
// unreachable. The consumer retries the request before replying with it.
func TransientFailure(code, message string, messages ...BackendMessage) Result {
	r := Failure(code, message, messages...)
	r.transient = true
	return r
}

func normalizeMessages(messages []BackendMessage) []BackendMessage {
	out := make([]BackendMessage, len(messages))
	copy(out, messages)
	return out
}

func (r Result) Kind() Kind      { return r.kind }
func (r Result) IsSuccess() bool { return r.kind == KindSuccess }
func (r Result) Code() string    { return r.code }
func (r Result) Message() string { return r.message }

// Transient reports whether the failure may succeed when retried. It is not
// part of the wire format.
func (r Result) Transient() bool { return r.transient }

// Data returns the success payload; nil for failures.
func (r Result) Data() map[string]any { return r.data }

// Messages returns a copy of the backend messages.
func (r Result) Messages() []BackendMessage {
	return normalizeMessages(r.messages)
}

type successWire struct {
	Data     map[string]any   `json:"data"`
	Messages []BackendMessage `json:"messages"`
}

type errorWire struct {
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Messages []BackendMessage `json:"messages"`
}

// MarshalJSON emits the outbound message body.
func (r Result) MarshalJSON() ([]byte, error) {
	messages := r.messages
	if messages == nil {
		messages = []BackendMessage{}
	}
	switch r.kind {
	case KindSuccess:
		return jsoncodec.Marshal(successWire{Data: r.data, Messages: messages})
	case KindError:
		return jsoncodec.Marshal(errorWire{Code: r.code, Message: r.message, Messages: messages})
	default:
		return nil, errors.New("adapter: cannot encode a zero Result")
	}
}

// UnmarshalJSON decodes an outbound message body. A body carrying "code" is an
// error, anything else is a success.
func (r *Result) UnmarshalJSON(data []byte) error {
	var probe struct {
		Code     *string          `json:"code"`
		Message  string           `json:"message"`
		Data     map[string]any   `json:"data"`
		Messages []BackendMessage `json:"messages"`
	}
	if err := jsoncodec.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Code != nil {
		*r = Failure(*probe.Code, probe.Message, probe.Messages...)
		return nil
	}
	*r = Success(probe.Data, probe.Messages...)
	return nil
}
