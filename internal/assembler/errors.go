package assembler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/ethos/internal/ir"
)

// ErrNoFragments is returned when Assemble is given nothing to merge.
var ErrNoFragments = errors.New("no fragments to assemble")

// Subjects a ConflictError can name.
const (
	SubjectImplementation = "implementation"
	SubjectMethod         = "method"
	SubjectType           = "type"
)

// ConflictError reports two fragments that disagree and cannot both hold.
// The assembler never picks a winner for these.
type ConflictError struct {
	Subject string
	Name    string
	Version ir.Version
	Sources []string
	Detail  string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conflict: %s %s", e.Subject, e.Name)
	if !e.Version.IsZero() {
		fmt.Fprintf(&b, " at %s", e.Version)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if len(e.Sources) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Sources, " vs "))
	}
	return b.String()
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
