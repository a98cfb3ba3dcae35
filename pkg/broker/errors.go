package broker

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/caretrust/medlock/pkg/types"
)

// DeniedError is an authorization denial. Status carries the audit
// status class, so the HTTP layer and the audit trail always agree on
// why the request was refused.
type DeniedError struct {
	Status types.AuditStatus
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied (%s): %s", e.Status, e.Reason)
}

// NotFoundError reports a request that named an object with no
// metadata record.
type NotFoundError struct {
	Object string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %q not found", e.Object)
}

// BadRequestError reports request input that failed validation before
// any decision was made.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}

// SetupError reports a provisioning gap, such as a user without a
// keypair. It is a server-side fault, not an authorization decision.
type SetupError struct {
	Reason string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("setup error: %s: %v", e.Reason, e.Err)
	}
	return "setup error: " + e.Reason
}

func (e *SetupError) Unwrap() error { return e.Err }

// IntegrityError reports stored state that cannot be processed, such
// as undecodable key material or corrupt metadata.
type IntegrityError struct {
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity error: %s: %v", e.Reason, e.Err)
	}
	return "integrity error: " + e.Reason
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// AuditWriteError reports a failed audit append. The operation it
// would have recorded is withheld: no grant may exist without its
// audit record.
type AuditWriteError struct {
	Err error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }

// HTTPStatus maps a broker error to its response code. Unclassified
// errors are internal faults.
func HTTPStatus(err error) int {
	var denied *DeniedError
	if errors.As(err, &denied) {
		if denied.Status == types.StatusDeniedAuth {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var badRequest *BadRequestError
	if errors.As(err, &badRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// AuditStatus extracts the audit status class from an error, when it
// has one. Setup, integrity and audit-write failures have none; they
// are server faults rather than mediation outcomes.
func AuditStatus(err error) (types.AuditStatus, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Status, true
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return types.StatusInvalidRequest, true
	}
	return "", false
}
