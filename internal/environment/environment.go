// Package environment models the build target environment and evaluates
// requirement markers against it. Markers are HCL expressions over a
// `target` object, e.g. `target.os == "linux" && target.libc != "musl"`.
package environment

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Environment describes the platform a build is producing packages for.
type Environment struct {
	OS   string
	Arch string
	Libc string

	// Capabilities are target feature flags; each becomes a
	// "capability-<name>" extra during resolution.
	Capabilities []string
}

// evalContext exposes the environment to marker expressions.
func (e *Environment) evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"target": cty.ObjectVal(map[string]cty.Value{
				"os":   cty.StringVal(e.OS),
				"arch": cty.StringVal(e.Arch),
				"libc": cty.StringVal(e.Libc),
			}),
		},
	}
}

// IsMarkerSatisfied evaluates marker against the environment. An empty
// marker is always satisfied. A marker that does not parse, or does not
// evaluate to a boolean, is an error rather than a silent false.
func (e *Environment) IsMarkerSatisfied(marker string) (bool, error) {
	if marker == "" {
		return true, nil
	}

	expr, diags := hclsyntax.ParseExpression([]byte(marker), "<marker>", hcl.InitialPos)
	if diags.HasErrors() {
		return false, fmt.Errorf("environment: parse marker %q: %w", marker, diags)
	}

	val, diags := expr.Value(e.evalContext())
	if diags.HasErrors() {
		return false, fmt.Errorf("environment: evaluate marker %q: %w", marker, diags)
	}
	if val.Type() != cty.Bool || val.IsNull() {
		return false, fmt.Errorf("environment: marker %q did not evaluate to a boolean", marker)
	}
	return val.True(), nil
}
