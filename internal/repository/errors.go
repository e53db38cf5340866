package repository

import "errors"

// ErrStorage marks a failure of the underlying relational store.
var ErrStorage = errors.New("storage error")
