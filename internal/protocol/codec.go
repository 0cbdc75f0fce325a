package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"git.home.luguber.info/inful/shq/internal/foundation/errors"
)

// Envelope is the wire frame of every message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeRequest frames a request.
func EncodeRequest(r Request) ([]byte, error) {
	return encode(string(r.RequestType()), r)
}

// EncodeResponse frames a response.
func EncodeResponse(r Response) ([]byte, error) {
	return encode(string(r.ResponseType()), r)
}

func encode(typ string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryInternal, fmt.Sprintf("failed to encode %s payload", typ)).Build()
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// DecodeRequest parses a framed request. Unknown types, unknown fields and
// malformed payloads are protocol errors.
func DecodeRequest(data []byte) (Request, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	decode, ok := requestDecoders[Type(env.Type)]
	if !ok {
		return nil, errors.ProtocolError(fmt.Sprintf("unknown request type %q", env.Type)).
			WithContext("request_type", env.Type).
			Build()
	}
	req, err := decode(env.Payload)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, fmt.Sprintf("malformed %s payload", env.Type)).
			WithContext("request_type", env.Type).
			Build()
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse parses a framed response.
func DecodeResponse(data []byte) (Response, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	decode, ok := responseDecoders[ResponseType(env.Type)]
	if !ok {
		return nil, errors.ProtocolError(fmt.Sprintf("unknown response type %q", env.Type)).Build()
	}
	resp, err := decode(env.Payload)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryProtocol, fmt.Sprintf("malformed %s payload", env.Type)).Build()
	}
	return resp, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return Envelope{}, errors.WrapError(err, errors.CategoryProtocol, "malformed message envelope").Build()
	}
	if env.Type == "" {
		return Envelope{}, errors.ProtocolError("message envelope has no type").Build()
	}
	return env, nil
}

func decodeRequest[T Request](payload []byte) (Request, error) {
	var m T
	if err := decodePayload(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeResponse[T Response](payload []byte) (Response, error) {
	var m T
	if err := decodePayload(payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodePayload leaves v at its zero value for an absent or null payload.
func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil
	}
	return strictUnmarshal(payload, v)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// FailureFrom converts an error into a Failure response. Classified errors
// keep their category as code and their context as details.
func FailureFrom(err error) Failure {
	c, ok := errors.AsClassified(err)
	if !ok {
		return Failure{Code: string(errors.CategoryInternal), Message: err.Error()}
	}
	f := Failure{Code: string(c.Category()), Message: c.Message()}
	if c.Cause() != nil {
		f.Message += ": " + c.Cause().Error()
	}
	if ctx := c.Context(); len(ctx) > 0 {
		f.Details = maps.Clone(map[string]any(ctx))
	}
	return f
}
