package suggest

import "errors"

// ErrInvalidArgument is reported in Result.Err when search options are
// malformed, such as a negative MaxResults or an unknown category.
var ErrInvalidArgument = errors.New("invalid argument")
