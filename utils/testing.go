package utils

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
)

const dialAttemptTimeout = 100 * time.Millisecond

// WaitForServer blocks until a TCP listener accepts connections at addr or
// ctx is done. The first attempt is made right away.
func WaitForServer(ctx context.Context, addr string) error {
	err := retry.Do(
		func() error {
			dctx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(dctx, "tcp", addr)
			if err != nil {
				return err
			}

			return conn.Close()
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("waiting for server at %s: %w", addr, err)
	}

	return nil
}
