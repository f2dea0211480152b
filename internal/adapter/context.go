package adapter

import (
	"encoding/json"
	"strconv"

	jsoncodec "github.com/drblury/obpflow/internal/runtime/jsoncodec"
)

// Top-level keys of an inbound OBP message.
const (
	FieldProcess     = "process"
	FieldCallContext = "outboundAdapterCallContext"
)

// CallContext is the caller metadata attached to each inbound request.
type CallContext struct {
	CorrelationID  string
	SessionID      string
	UserID         string
	Username       string
	ConsumerID     string
	GeneralContext map[string]string
}

// CallContextFrom reads the outboundAdapterCallContext object. Unknown shapes
// yield an empty context.
func CallContextFrom(raw any) CallContext {
	fields, ok := raw.(map[string]any)
	if !ok {
		return CallContext{GeneralContext: map[string]string{}}
	}
	p := Payload(fields)
	return CallContext{
		CorrelationID:  p.String("correlationId", ""),
		SessionID:      p.String("sessionId", ""),
		UserID:         p.String("userId", ""),
		Username:       p.String("username", ""),
		ConsumerID:     p.String("consumerId", ""),
		GeneralContext: generalContext(fields["generalContext"]),
	}
}

// generalContext accepts either a plain object or the OBP list form
// [{"key": ..., "value": ...}].
func generalContext(raw any) map[string]string {
	out := map[string]string{}
	switch v := raw.(type) {
	case map[string]any:
		for key, value := range v {
			out[key] = stringify(value)
		}
	case []any:
		for _, entry := range v {
			kv, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			key := Payload(kv).String("key", "")
			if key == "" {
				continue
			}
			out[key] = Payload(kv).String("value", "")
		}
	}
	return out
}

// Payload holds the operation-specific fields of a request.
type Payload map[string]any

// String returns the value under key rendered as a string. Missing and null
// keys yield fallback.
func (p Payload) String(key, fallback string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return fallback
	}
	return stringify(value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		encoded, err := jsoncodec.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// Request is a decoded inbound message.
type Request struct {
	Operation string
	Payload   Payload
	Context   CallContext
}

// DecodeRequest splits an inbound JSON object into operation, call context and
// payload. Numbers are kept as their literal text so amounts keep precision.
func DecodeRequest(body []byte) (Request, error) {
	var fields map[string]any
	if err := jsoncodec.UnmarshalNumbers(body, &fields); err != nil {
		return Request{}, err
	}
	payload := make(Payload, len(fields))
	for key, value := range fields {
		if key == FieldProcess || key == FieldCallContext {
			continue
		}
		payload[key] = value
	}
	return Request{
		Operation: Payload(fields).String(FieldProcess, ""),
		Payload:   payload,
		Context:   CallContextFrom(fields[FieldCallContext]),
	}, nil
}
