// Package message defines the closed set of messages exchanged between
// contexts and the exhaustive dispatch over them.
package message

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// Type is the wire discriminator carried in the "type" field.
type Type string

const (
	TypeGetState        Type = "getState"
	TypeToggleState     Type = "toggleState"
	TypeToggleExtension Type = "toggleExtension"
	TypeTabUpdated      Type = "tabUpdated"
	TypeHistoryUpdate   Type = "historyUpdate"
	TypeCopySuccess     Type = "copySuccess"
	TypeCopyText        Type = "copyText"
)

// Message is one of the variants below. The set is closed: the unexported
// method keeps other packages from adding variants.
type Message interface {
	Type() Type
	isMessage()
}

// GetState asks the background for the enabled flag.
type GetState struct{}

// ToggleState asks the background to flip the enabled flag.
type ToggleState struct{}

// ToggleExtension tells a content context the enabled flag changed.
type ToggleExtension struct{}

// TabUpdated tells a content context its page finished loading.
type TabUpdated struct{}

// HistoryUpdate announces that the history changed. Recipients re-read it.
type HistoryUpdate struct{}

// CopySuccess confirms to a content context that its copy was recorded.
type CopySuccess struct{}

// CopyText asks the background to record text in the history on behalf of
// the sending context.
type CopyText struct {
	Text string `json:"text"`
}

// Unknown is any message whose type is outside the protocol.
type Unknown struct {
	Name string
	Raw  json.RawMessage
}

func (GetState) Type() Type        { return TypeGetState }
func (ToggleState) Type() Type     { return TypeToggleState }
func (ToggleExtension) Type() Type { return TypeToggleExtension }
func (TabUpdated) Type() Type      { return TypeTabUpdated }
func (HistoryUpdate) Type() Type   { return TypeHistoryUpdate }
func (CopySuccess) Type() Type     { return TypeCopySuccess }
func (CopyText) Type() Type        { return TypeCopyText }
func (u Unknown) Type() Type       { return Type(u.Name) }

func (GetState) isMessage()        {}
func (ToggleState) isMessage()     {}
func (ToggleExtension) isMessage() {}
func (TabUpdated) isMessage()      {}
func (HistoryUpdate) isMessage()   {}
func (CopySuccess) isMessage()     {}
func (CopyText) isMessage()        {}
func (Unknown) isMessage()         {}

// Response is the reply to a message. Fields a message type does not use
// are omitted.
type Response struct {
	IsEnabled *bool            `json:"isEnabled,omitempty"`
	Success   *bool            `json:"success,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      errors.ErrorCode `json:"code,omitempty"`
}

// Enabled builds a {isEnabled} response.
func Enabled(v bool) Response { return Response{IsEnabled: &v} }

// Succeeded builds a {success} response.
func Succeeded(v bool) Response { return Response{Success: &v} }

// Failed converts err into an error response.
func Failed(err error) Response {
	resp := Response{Error: err.Error(), Code: errors.KindOf(err)}
	var sErr *errors.Error
	if stderrors.As(err, &sErr) {
		resp.Error = sErr.Message
	}
	return resp
}

// Err returns the error carried by r, or nil.
func (r Response) Err() error {
	if r.Error == "" && r.Code == "" {
		return nil
	}
	code := r.Code
	if code == "" {
		code = errors.ErrInternal
	}
	return &errors.Error{Code: code, Message: r.Error}
}

// Encode writes m as a JSON object with its "type" discriminator.
func Encode(m Message) ([]byte, error) {
	if u, ok := m.(Unknown); ok && len(u.Raw) > 0 {
		return u.Raw, nil
	}
	fields := map[string]any{"type": m.Type()}
	if c, ok := m.(CopyText); ok {
		fields["text"] = c.Text
	}
	return json.Marshal(fields)
}

// Decode parses a JSON message. Malformed input is an INVALID_REQUEST error;
// a well-formed message with an unrecognized type decodes to Unknown.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed message: %v", err))
	}
	if head.Type == nil {
		return nil, errors.NewInvalidRequest("message has no type")
	}

	switch Type(*head.Type) {
	case TypeGetState:
		return GetState{}, nil
	case TypeToggleState:
		return ToggleState{}, nil
	case TypeToggleExtension:
		return ToggleExtension{}, nil
	case TypeTabUpdated:
		return TabUpdated{}, nil
	case TypeHistoryUpdate:
		return HistoryUpdate{}, nil
	case TypeCopySuccess:
		return CopySuccess{}, nil
	case TypeCopyText:
		var c CopyText
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed copyText: %v", err))
		}
		return c, nil
	}
	return Unknown{Name: *head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
}
