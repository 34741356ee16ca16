package store

import (
	"errors"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// errWrongType is wrapped into a kverr.KindInvalidArgument when a command
// targets a key holding a different logical type, matching Redis's
// WRONGTYPE behavior.
var errWrongType = errors.New("store: operation against a key holding the wrong type")

func isNotFound(err error) bool { return kverr.Is(err, kverr.KindNotFound) }
