package kernel

import (
	"fmt"

	"github.com/silky/retcon/internal/source"
)

// Op is the request operation.
type Op string

const (
	// OpCreate notifies the kernel of a record created in a source.
	OpCreate Op = "create"

	// OpRead is a side-effect-free probe used by operators.
	OpRead Op = "read"

	// OpUpdate notifies the kernel of a record changed in a source.
	OpUpdate Op = "update"

	// OpDelete notifies the kernel of a record deleted in a source.
	OpDelete Op = "delete"
)

// ParseOp validates an operation name from the CLI.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		return Op(s), nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// Request is one reconciliation request: an operation on a foreign key.
type Request struct {
	Op Op
	FK source.ForeignKey
}

// String renders the request for traces.
func (r Request) String() string {
	return fmt.Sprintf("%s %s", r.Op, r.FK)
}
