package server

import (
	"errors"

	"github.com/ggoodman/jsonrpc-go/jsonrpc"
)

// toError converts a handler error into the error object sent on the wire.
//
// Reserved codes are only passed through when they are one of the predefined
// codes or inside the server error range; other reserved codes become an
// internal error carrying the original message as data. Errors that are not
// *jsonrpc.Error become internal errors with the error text as data.
func toError(err error) *jsonrpc.Error {
	var jerr *jsonrpc.Error
	if !errors.As(err, &jerr) || jerr == nil {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "", err.Error())
	}
	code := jerr.Code
	if code.IsReserved() && !code.IsPredefined() && !code.IsServerError() {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "", jerr.Message)
	}
	if jerr.Message == "" {
		return jsonrpc.NewError(code, "", jerr.Data)
	}
	return jerr
}
