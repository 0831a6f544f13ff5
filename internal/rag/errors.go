package rag

import (
	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

// Sentinel constructors for the taxonomy of spec §7. Each call site
// attaches Operation/Component/Details; errors.Is(err, target) style
// matching works because BaseError.Is compares only Type.

func newValidationError(op, msg string) error {
	return ragerrors.New(ragerrors.ErrorTypeValidation, msg).WithComponent("rag").WithOperation(op)
}

func newEmptyDocumentError(op, docID string) error {
	return ragerrors.New(ragerrors.ErrorTypeEmptyDocument, "document produced no chunks").
		WithComponent("rag").WithOperation(op).
		WithDetails(map[string]string{"doc_id": docID})
}

func newBackendUnavailableError(op, backend string, cause error) error {
	return ragerrors.Wrap(ragerrors.ErrorTypeBackendUnavailable, backend+" backend unavailable", cause).
		WithComponent("rag").WithOperation(op).
		WithDetails(map[string]string{"backend": backend})
}

func newInternalError(op string, cause error) error {
	return ragerrors.Wrap(ragerrors.ErrorTypeInternal, "internal error", cause).WithComponent("rag").WithOperation(op)
}
