package appointment

import "errors"

var ErrNotFound = errors.New("appointment not found")
