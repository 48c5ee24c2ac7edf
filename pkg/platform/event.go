package platform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a verified webhook event. Account is the connected account the
// event belongs to; Object is the event's data.object.
type Event struct {
	ID       string
	Type     string
	Account  string
	Livemode bool
	Object   json.RawMessage
}

func (e Event) Mode() Mode { return ModeOf(e.Livemode) }

// ObjectID returns data.object.id.
func (e Event) ObjectID() (string, error) {
	return e.Ref("id")
}

// Ref returns data.object[field] as an id. Expanded references are objects
// with an id; collapsed ones are plain strings. A null or missing field
// yields "".
func (e Event) Ref(field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrBadEvent, e.ID, err)
	}
	return refID(obj[field])
}

// Category is the type prefix before the first dot, e.g. "invoice" for
// "invoice.paid".
func (e Event) Category() string {
	category, _, _ := strings.Cut(e.Type, ".")
	return category
}

func refID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var expanded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &expanded); err != nil {
		return "", fmt.Errorf("%w: reference: %w", ErrBadEvent, err)
	}
	return expanded.ID, nil
}

// AccountName extracts a display name from an account object: the business
// profile name, else the dashboard display name.
func AccountName(raw json.RawMessage) string {
	var acct struct {
		BusinessProfile *struct {
			Name string `json:"name"`
		} `json:"business_profile"`
		Settings *struct {
			Dashboard *struct {
				DisplayName string `json:"display_name"`
			} `json:"dashboard"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(raw, &acct); err != nil {
		return ""
	}
	if acct.BusinessProfile != nil && acct.BusinessProfile.Name != "" {
		return acct.BusinessProfile.Name
	}
	if acct.Settings != nil && acct.Settings.Dashboard != nil {
		return acct.Settings.Dashboard.DisplayName
	}
	return ""
}
