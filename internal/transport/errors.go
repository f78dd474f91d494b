package transport

import "errors"

// ErrNotConnected is returned by Send while no socket is open. Callers that
// need delivery guarantees should re-send from their onOpen hook instead.
var ErrNotConnected = errors.New("ws not connected")
