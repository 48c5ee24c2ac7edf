package mirror

import "errors"

var (
	ErrNotFound       = errors.New("mirror: not found")
	ErrFeatureExists  = errors.New("mirror: feature key already exists")
	ErrInvalidStep    = errors.New("mirror: invalid pipeline step")
	ErrInvalidScope   = errors.New("mirror: invalid override scope")
	ErrUnknownFeature = errors.New("mirror: override references unknown feature")
)
