package entitlements

import "errors"

var (
	ErrNotFound     = errors.New("entitlements: not found")
	ErrNoStateStore = errors.New("entitlements: no state store configured")
)
