package repository

import "errors"

// ErrStateConflict is returned when a conditional state transition matched no
// row because another writer moved the record first.
var ErrStateConflict = errors.New("repository: state transition conflict")
