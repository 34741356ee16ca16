package repl

import "errors"

var (
	errTrySyncFailed   = errors.New("repl: master rejected trysync")
	errNotConnected    = errors.New("repl: binlog-sync frame received outside Connected state")
	errSessionMismatch = errors.New("repl: binlog-sync frame session id disagrees with local session")
	errUnknownSlave    = errors.New("repl: no such subscribed slave")
	errUnavailable     = errors.New("repl: leader-protected master has insufficient acked slaves")
)
