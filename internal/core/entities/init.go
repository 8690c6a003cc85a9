// Package entities registers every tracked entity type with the core
// registry. Import it for side effects before calling core.Seal.
package entities

import "github.com/JonMunkholm/flightrecorder/internal/core"

// Registered groups.
const (
	GroupControl   = "Control"
	GroupStructure = "Structure"
	GroupTargeting = "Targeting"
	GroupOutcomes  = "Outcomes"
	GroupGA4       = "GA4"
)

// rateEpsilon absorbs rounding noise in derived ratios (ctr, cpa, roas...).
const rateEpsilon = 1e-6

func scalar(names ...string) []core.FieldSpec {
	return fields(core.ExactScalar, 0, names)
}

func numeric(names ...string) []core.FieldSpec {
	return fields(core.Numeric, 0, names)
}

func rates(names ...string) []core.FieldSpec {
	return fields(core.Numeric, rateEpsilon, names)
}

func blobs(names ...string) []core.FieldSpec {
	return fields(core.OpaqueBlob, 0, names)
}

func dates(names ...string) []core.FieldSpec {
	return fields(core.Date, 0, names)
}

func fields(kind core.ComparisonKind, eps float64, names []string) []core.FieldSpec {
	out := make([]core.FieldSpec, len(names))
	for i, n := range names {
		out[i] = core.FieldSpec{Name: n, Kind: kind, Epsilon: eps}
	}
	return out
}

func concat(groups ...[]core.FieldSpec) []core.FieldSpec {
	var out []core.FieldSpec
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
