package trigger

import (
	"context"
	"net"
	"time"
)

// Constraint gates a DurableJob run. A nil error means the run may proceed.
type Constraint interface {
	Check(ctx context.Context) error
}

// ConstraintFunc adapts a function to Constraint.
//
//	trigger.ConstraintFunc(func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
type ConstraintFunc func(ctx context.Context) error

func (f ConstraintFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// Always is a Constraint that is always met.
var Always Constraint = ConstraintFunc(func(context.Context) error { return nil })

// Network returns a Constraint met when a TCP connection to addr can be
// opened within timeout.
func Network(addr string, timeout time.Duration) Constraint {
	return ConstraintFunc(func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}
