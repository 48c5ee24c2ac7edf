package entitlements_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/entitlekit/svc/entitlements"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

func flag(v bool) *bool    { return &v }
func limit(v int64) *int64 { return &v }

func flagFeature(id int64, v *bool) mirror.Feature {
	return mirror.Feature{ID: id, Type: mirror.FeatureFlag, ValueFlag: v}
}

func limitFeature(id int64, v *int64) mirror.Feature {
	return mirror.Feature{ID: id, Type: mirror.FeatureLimit, ValueLimit: v}
}

func TestPrefer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cur  mirror.Feature
		next mirror.Feature
		want bool
	}{
		{"enabled flag replaces disabled", flagFeature(1, flag(false)), flagFeature(1, flag(true)), true},
		{"disabled flag never replaces", flagFeature(1, flag(true)), flagFeature(1, flag(false)), false},
		{"nil flag never replaces", flagFeature(1, flag(false)), flagFeature(1, nil), false},
		{"larger limit replaces", limitFeature(1, limit(5)), limitFeature(1, limit(10)), true},
		{"equal limit replaces", limitFeature(1, limit(5)), limitFeature(1, limit(5)), true},
		{"smaller limit keeps", limitFeature(1, limit(5)), limitFeature(1, limit(1)), false},
		{"unlimited replaces finite", limitFeature(1, limit(5)), limitFeature(1, nil), true},
		{"finite never replaces unlimited", limitFeature(1, nil), limitFeature(1, limit(1_000_000)), false},
		{"unlimited replaces unlimited", limitFeature(1, nil), limitFeature(1, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, entitlements.Prefer(tt.cur, tt.next))
		})
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := []mirror.Feature{flagFeature(1, flag(false)), limitFeature(2, limit(1)), limitFeature(3, limit(10))}

	t.Run("no states keeps base", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, base, entitlements.Merge(base))
	})

	t.Run("flag is an OR across products", func(t *testing.T) {
		t.Parallel()
		got := entitlements.Merge(base,
			[]mirror.Feature{flagFeature(1, flag(true))},
			[]mirror.Feature{flagFeature(1, flag(false))},
		)
		assert.True(t, *got[0].ValueFlag)
	})

	t.Run("unlimited dominates in any order", func(t *testing.T) {
		t.Parallel()
		a := []mirror.Feature{limitFeature(2, nil)}
		b := []mirror.Feature{limitFeature(2, limit(50))}
		assert.Nil(t, entitlements.Merge(base, a, b)[1].ValueLimit)
		assert.Nil(t, entitlements.Merge(base, b, a)[1].ValueLimit)
	})

	t.Run("limit takes the max", func(t *testing.T) {
		t.Parallel()
		got := entitlements.Merge(base,
			[]mirror.Feature{limitFeature(3, limit(20))},
			[]mirror.Feature{limitFeature(3, limit(15))},
		)
		assert.Equal(t, int64(20), *got[2].ValueLimit)
	})

	t.Run("base is not modified and unknown features ignored", func(t *testing.T) {
		t.Parallel()
		got := entitlements.Merge(base, []mirror.Feature{flagFeature(1, flag(true)), flagFeature(99, flag(true))})
		assert.Len(t, got, 3)
		assert.False(t, *base[0].ValueFlag)
	})
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	features := []mirror.Feature{flagFeature(1, flag(true)), limitFeature(2, limit(5))}
	got := entitlements.ApplyOverrides(features, []mirror.Override{
		{FeatureID: 1, ValueFlag: flag(false)},
		{FeatureID: 2, ValueLimit: nil},
		{FeatureID: 7, ValueFlag: flag(true)},
	})

	assert.False(t, *got[0].ValueFlag)
	assert.Nil(t, got[1].ValueLimit)
	assert.True(t, *features[0].ValueFlag)
	assert.Equal(t, features, entitlements.ApplyOverrides(features, nil))
}
