package resolver

import (
	"fmt"
	"strings"

	"github.com/vk/pkgforge/internal/pkgmodel"
)

// UnresolvableGraphError reports a dependency graph that cannot be turned
// into a valid build order: either a build-dependency cycle exceeded what
// declared tolerances can break, or the runtime and build-time solves
// remain inconsistent after the single reconciliation retry. Exactly one
// of Cycle and Mismatched is populated.
type UnresolvableGraphError struct {
	// Cycle is the offending cycle path, each node an immediate dependency
	// of the next, first node repeated at the end.
	Cycle []string

	// Mismatched lists every dependency whose runtime and build-time
	// versions still disagree, as exact pins in PEP-508-like form.
	Mismatched []pkgmodel.Requirement
}

func (e *UnresolvableGraphError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("unresolvable dependency graph: unbreakable cycle: %s",
			strings.Join(e.Cycle, " -> "))
	}
	deps := make([]string, len(e.Mismatched))
	for i, req := range e.Mismatched {
		deps[i] = req.String()
	}
	return fmt.Sprintf("unresolvable install-time vs build-time dependency graph; mismatching dependencies: %s",
		strings.Join(deps, ", "))
}
