package schema

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input: a missing required field, a
// duplicate name, an out-of-range value. The operation is aborted before any
// state changes.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProtectedEntityError reports an attempted update or delete of a protected
// member or reason. Protected entities survive every destructive operation,
// including bulk replace imports.
type ProtectedEntityError struct {
	Collection Collection
	ID         string
}

func (e *ProtectedEntityError) Error() string {
	return fmt.Sprintf("%s/%s is protected and cannot be modified or deleted", e.Collection, e.ID)
}

// ReferentialIntegrityError reports an attempted delete of a member or reason
// still referenced by non-deleted records.
type ReferentialIntegrityError struct {
	Collection Collection
	ID         string
	References int
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s/%s is referenced by %d record(s) and cannot be deleted", e.Collection, e.ID, e.References)
}

// RemoteUnavailableError reports that the remote store could not be reached
// or is misconfigured. The failure is transient: local state and the pending
// operation queue are preserved and the sync pass can be retried.
type RemoteUnavailableError struct {
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote store unavailable: %v", e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error {
	return e.Err
}

// RowError locates one problem in an imported CSV file.
type RowError struct {
	Line    int // 1-based, counting the header row as line 1
	Message string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ImportParseError reports a structurally invalid import. All row-level
// problems are collected before the import is rejected, so the caller can
// present them together; nothing is created when this error is returned.
type ImportParseError struct {
	Rows []RowError
}

func (e *ImportParseError) Error() string {
	if len(e.Rows) == 0 {
		return "import rejected"
	}
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.String()
	}
	return fmt.Sprintf("import rejected (%d problem(s)): %s", len(e.Rows), strings.Join(msgs, "; "))
}
