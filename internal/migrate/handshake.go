package migrate

import (
	"fmt"
	"strings"

	"github.com/calvinalkan/kvserver/internal/kverr"
)

// Handshake authenticates (or pings) a freshly dialed peer connection:
// AUTH if a password is configured, else PING; require one of OK, PONG,
// or an error containing "no password".
func handshake(c *peerConn, password string) error {
	if password != "" {
		if err := c.send("AUTH", password); err != nil {
			return err
		}
	} else {
		if err := c.send("PING"); err != nil {
			return err
		}
	}

	reply, err := c.recv()
	if err != nil {
		return err
	}

	if reply.IsError() {
		if strings.Contains(strings.ToLower(reply.Str), "no password") {
			return nil
		}

		return kverr.New(kverr.KindAuthFailed, "migrate.handshake", fmt.Errorf("peer handshake failed: %s", reply.Str))
	}

	if reply.Kind == ReplySimple && (strings.EqualFold(reply.Str, "OK") || strings.EqualFold(reply.Str, "PONG")) {
		return nil
	}

	return kverr.New(kverr.KindAuthFailed, "migrate.handshake", fmt.Errorf("unexpected handshake reply: %q", reply.Str))
}
