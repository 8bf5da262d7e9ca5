package linkcheck

import (
	"fmt"
	"strings"
)

// Reason classifies why a shared-library reference could not be resolved.
type Reason string

const (
	// ReasonNoRPathDeclared: the binary declares no runtime search path at
	// all, a packaging omission rather than a missing dependency.
	ReasonNoRPathDeclared Reason = "no-rpath-declared"

	// ReasonLibraryNotInRPath: the binary declares search paths but none
	// of them contains the referenced library.
	ReasonLibraryNotInRPath Reason = "library-not-in-rpath"
)

// IntegrityError reports a binary whose shared-library reference resolves
// neither to an approved system library nor to a library bundled in the
// package image.
type IntegrityError struct {
	Binary  string
	Library string
	RPaths  []string
	Reason  Reason
}

func (e *IntegrityError) Error() string {
	if e.Reason == ReasonNoRPathDeclared {
		return fmt.Sprintf(
			"%s links to %s which is not an allowed system library, and %s does not declare a library rpath",
			e.Binary, e.Library, e.Binary)
	}
	return fmt.Sprintf(
		"%s links to %s which is neither an allowed system library, nor a bundled library in rpath: %s",
		e.Binary, e.Library, strings.Join(e.RPaths, ":"))
}
