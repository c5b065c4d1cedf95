package terms

import "errors"

// ErrValidation is returned when a taxonomy cannot be loaded because one of
// its terms is malformed. Nothing is applied when it is returned.
var ErrValidation = errors.New("invalid taxonomy")
