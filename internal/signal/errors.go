package signal

import "errors"

// ErrInvalidRule is returned for a rule without an indicator name.
var ErrInvalidRule = errors.New("invalid signal rule")
