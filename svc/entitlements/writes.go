package entitlements

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dmitrymomot/entitlekit/pkg/validator"
	"github.com/dmitrymomot/entitlekit/svc/mirror"
)

var featureKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// FeatureInput describes a feature to create or update. A limit feature
// carries either ValueLimit or Unlimited.
type FeatureInput struct {
	Name       string             `json:"name"`
	Key        string             `json:"key"`
	Type       mirror.FeatureType `json:"type"`
	ValueFlag  *bool              `json:"value_flag"`
	ValueLimit *int64             `json:"value_limit"`
	Unlimited  bool               `json:"unlimited"`
}

func (in FeatureInput) Validate() error {
	rules := []validator.Rule{
		validator.RequiredString("name", in.Name),
		validator.MaxLenString("name", in.Name, 255),
		validator.RequiredString("key", in.Key),
		validator.MaxLenString("key", in.Key, 255),
		validator.Pattern("key", in.Key, featureKeyPattern),
		validator.OneOf("type", in.Type, mirror.FeatureFlag, mirror.FeatureLimit),
	}
	rules = append(rules, valueRules("", in.Type, in.ValueFlag, in.ValueLimit, in.Unlimited)...)
	return validator.Apply(rules...)
}

// OverrideInput sets one feature's value for a product, customer or price.
type OverrideInput struct {
	FeatureID  int64  `json:"feature_id"`
	ValueFlag  *bool  `json:"value_flag"`
	ValueLimit *int64 `json:"value_limit"`
	Unlimited  bool   `json:"unlimited"`
}

func valueRules(prefix string, typ mirror.FeatureType, flag *bool, limit *int64, unlimited bool) []validator.Rule {
	switch typ {
	case mirror.FeatureFlag:
		return []validator.Rule{
			validator.Custom(prefix+"value_flag", "is required for flag features", func() bool { return flag != nil }),
			validator.Custom(prefix+"value_limit", "must be empty for flag features", func() bool { return limit == nil && !unlimited }),
		}
	case mirror.FeatureLimit:
		return []validator.Rule{
			validator.Custom(prefix+"value_flag", "must be empty for limit features", func() bool { return flag == nil }),
			validator.Custom(prefix+"value_limit", "requires either a limit or unlimited", func() bool { return (limit != nil) != unlimited }),
			validator.Custom(prefix+"value_limit", "must be at least 0", func() bool { return limit == nil || *limit >= 0 }),
		}
	default:
		return nil
	}
}

func (s *Service) CreateFeature(ctx context.Context, accountID string, in FeatureInput) (*mirror.Feature, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f, err := s.store.CreateFeature(ctx, in.feature(accountID, 0))
	if err != nil {
		return nil, featureError(err)
	}
	s.invalidateAccount(ctx, accountID)
	return f, nil
}

func (s *Service) UpdateFeature(ctx context.Context, accountID string, id int64, in FeatureInput) (*mirror.Feature, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f, err := s.store.UpdateFeature(ctx, in.feature(accountID, id))
	if err != nil {
		return nil, featureError(err)
	}
	s.invalidateAccount(ctx, accountID)
	return f, nil
}

// DeleteFeature removes the feature and every override of it.
func (s *Service) DeleteFeature(ctx context.Context, accountID string, id int64) error {
	if err := s.store.DeleteFeature(ctx, accountID, id); err != nil {
		return notFound(err)
	}
	s.invalidateAccount(ctx, accountID)
	return nil
}

func (in FeatureInput) feature(accountID string, id int64) mirror.Feature {
	f := mirror.Feature{ID: id, AccountID: accountID, Name: in.Name, Key: in.Key, Type: in.Type}
	switch in.Type {
	case mirror.FeatureFlag:
		f.ValueFlag = in.ValueFlag
	case mirror.FeatureLimit:
		f.ValueLimit = in.ValueLimit
	}
	return f
}

func featureError(err error) error {
	if errors.Is(err, mirror.ErrFeatureExists) {
		return validator.ValidationErrors{{Field: "key", Message: "is already taken"}}
	}
	return notFound(err)
}

// SetProductFeatures replaces the product's overrides with in.
func (s *Service) SetProductFeatures(ctx context.Context, accountID, productID string, in []OverrideInput) error {
	if err := s.setOverrides(ctx, accountID, mirror.ScopeProduct, productID, in); err != nil {
		return err
	}
	s.invalidateAccount(ctx, accountID)
	return nil
}

// SetPriceFeatures replaces the price's overrides with in.
func (s *Service) SetPriceFeatures(ctx context.Context, accountID, priceID string, in []OverrideInput) error {
	if err := s.setOverrides(ctx, accountID, mirror.ScopePrice, priceID, in); err != nil {
		return err
	}
	s.invalidateAccount(ctx, accountID)
	return nil
}

// SetCustomerFeatures replaces the customer's overrides with in.
func (s *Service) SetCustomerFeatures(ctx context.Context, accountID, customerID string, in []OverrideInput) error {
	if err := s.setOverrides(ctx, accountID, mirror.ScopeCustomer, customerID, in); err != nil {
		return err
	}
	if err := s.InvalidateCustomer(ctx, accountID, customerID); err != nil {
		s.logInvalidation(ctx, accountID, err)
	}
	return nil
}

// Overrides lists the overrides of one product, customer or price.
func (s *Service) Overrides(ctx context.Context, accountID string, scope mirror.Scope, scopeID string) ([]mirror.Override, error) {
	return s.store.ListOverrides(ctx, accountID, scope, scopeID)
}

func (s *Service) setOverrides(ctx context.Context, accountID string, scope mirror.Scope, scopeID string, in []OverrideInput) error {
	features, err := s.store.ListFeatures(ctx, accountID)
	if err != nil {
		return err
	}
	byID := make(map[int64]mirror.Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}

	rules := []validator.Rule{
		validator.RequiredString(string(scope), scopeID),
	}
	seen := make(map[int64]bool, len(in))
	overrides := make([]mirror.Override, 0, len(in))
	for i, o := range in {
		prefix := fmt.Sprintf("features[%d].", i)
		f, known := byID[o.FeatureID]
		duplicate := seen[o.FeatureID]
		seen[o.FeatureID] = true

		rules = append(rules,
			validator.Custom(prefix+"feature_id", "unknown feature", func() bool { return known }),
			validator.Custom(prefix+"feature_id", "duplicate feature", func() bool { return !duplicate }),
		)
		if !known {
			continue
		}
		rules = append(rules, valueRules(prefix, f.Type, o.ValueFlag, o.ValueLimit, o.Unlimited)...)

		ov := mirror.Override{FeatureID: o.FeatureID}
		if f.Type == mirror.FeatureFlag {
			ov.ValueFlag = o.ValueFlag
		} else {
			ov.ValueLimit = o.ValueLimit
		}
		overrides = append(overrides, ov)
	}
	if err := validator.Apply(rules...); err != nil {
		return err
	}

	if err := s.store.ReplaceOverrides(ctx, accountID, scope, scopeID, overrides); err != nil {
		if errors.Is(err, mirror.ErrUnknownFeature) {
			return validator.ValidationErrors{{Field: "features", Message: "unknown feature"}}
		}
		return err
	}
	return nil
}

func (s *Service) invalidateAccount(ctx context.Context, accountID string) {
	if err := s.InvalidateAccount(ctx, accountID); err != nil {
		s.logInvalidation(ctx, accountID, err)
	}
}
