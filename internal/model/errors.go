package model

import "errors"

// Repository-level sentinels; services translate them into coded errors.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)
