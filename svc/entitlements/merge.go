package entitlements

import "github.com/dmitrymomot/entitlekit/svc/mirror"

// qualifyingStatuses are the subscription statuses that grant their
// products' features.
var qualifyingStatuses = []string{"active", "past_due", "incomplete", "trialing"}

// ApplyOverrides returns features with the values of matching overrides
// substituted. An override replaces both values of its feature.
func ApplyOverrides(features []mirror.Feature, overrides []mirror.Override) []mirror.Feature {
	byFeature := make(map[int64]mirror.Override, len(overrides))
	for _, o := range overrides {
		byFeature[o.FeatureID] = o
	}

	out := make([]mirror.Feature, len(features))
	for i, f := range features {
		if o, ok := byFeature[f.ID]; ok {
			f.ValueFlag = o.ValueFlag
			f.ValueLimit = o.ValueLimit
		}
		out[i] = f
	}
	return out
}

// Merge folds product states into base, feature by feature. The result keeps
// base's order; features not in base are ignored.
func Merge(base []mirror.Feature, states ...[]mirror.Feature) []mirror.Feature {
	out := make([]mirror.Feature, len(base))
	copy(out, base)

	index := make(map[int64]int, len(out))
	for i, f := range out {
		index[f.ID] = i
	}

	for _, state := range states {
		for _, f := range state {
			i, ok := index[f.ID]
			if !ok {
				continue
			}
			if Prefer(out[i], f) {
				out[i] = f
			}
		}
	}
	return out
}

// Prefer reports whether next should replace cur in a merge. A flag is
// replaced only by an enabled flag. A limit is replaced by an equal or
// larger one; a nil limit is unlimited and beats every finite value.
func Prefer(cur, next mirror.Feature) bool {
	switch next.Type {
	case mirror.FeatureFlag:
		return next.ValueFlag != nil && *next.ValueFlag
	case mirror.FeatureLimit:
		switch {
		case next.ValueLimit == nil:
			return true
		case cur.ValueLimit == nil:
			return false
		default:
			return *next.ValueLimit >= *cur.ValueLimit
		}
	default:
		return false
	}
}
