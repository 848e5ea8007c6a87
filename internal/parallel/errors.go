package parallel

import "errors"

// ErrPoolClosed is returned for jobs submitted after Close.
var ErrPoolClosed = errors.New("parallel: pool closed")
