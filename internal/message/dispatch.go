package message

import (
	"context"

	"github.com/smartcopy-pro/smartcopy/internal/errors"
)

// Handler handles every message variant. Contexts that only receive a
// subset embed Unhandled for the rest.
type Handler interface {
	GetState(ctx context.Context) (Response, error)
	ToggleState(ctx context.Context) (Response, error)
	ToggleExtension(ctx context.Context) (Response, error)
	TabUpdated(ctx context.Context) (Response, error)
	HistoryUpdate(ctx context.Context) (Response, error)
	CopySuccess(ctx context.Context) (Response, error)
	CopyText(ctx context.Context, m CopyText) (Response, error)
}

// Dispatch routes m to the matching Handler method. Handler errors and
// unknown types come back as error responses; nothing is returned as a Go
// error so a bad message never tears down the receiving context.
func Dispatch(ctx context.Context, h Handler, m Message) Response {
	var (
		resp Response
		err  error
	)
	switch v := m.(type) {
	case GetState:
		resp, err = h.GetState(ctx)
	case ToggleState:
		resp, err = h.ToggleState(ctx)
	case ToggleExtension:
		resp, err = h.ToggleExtension(ctx)
	case TabUpdated:
		resp, err = h.TabUpdated(ctx)
	case HistoryUpdate:
		resp, err = h.HistoryUpdate(ctx)
	case CopySuccess:
		resp, err = h.CopySuccess(ctx)
	case CopyText:
		resp, err = h.CopyText(ctx, v)
	case Unknown:
		err = errors.NewUnknownMessage(v.Name)
	default:
		err = errors.NewUnknownMessage("")
	}
	if err != nil {
		return Failed(err)
	}
	return resp
}

// Unhandled answers every message with UNKNOWN_MESSAGE.
type Unhandled struct{}

func (Unhandled) GetState(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeGetState))
}

func (Unhandled) ToggleState(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeToggleState))
}

func (Unhandled) ToggleExtension(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeToggleExtension))
}

func (Unhandled) TabUpdated(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeTabUpdated))
}

func (Unhandled) HistoryUpdate(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeHistoryUpdate))
}

func (Unhandled) CopySuccess(context.Context) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeCopySuccess))
}

func (Unhandled) CopyText(context.Context, CopyText) (Response, error) {
	return Response{}, errors.NewUnknownMessage(string(TypeCopyText))
}
