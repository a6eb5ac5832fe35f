package readiness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v4/net"

	"ng-dev-proxy/internal/model"
)

// ErrPortInUse is returned when a dev server port is already taken before
// the proxy started.
var ErrPortInUse = errors.New("port already in use")

const statusListen = "LISTEN"

// Probe reports whether something listens on a local TCP port.
type Probe interface {
	Listening(ctx context.Context, port int) (bool, error)
}

// SocketProbe reads the listener table through gopsutil.
type SocketProbe struct{}

// NewSocketProbe creates a SocketProbe.
func NewSocketProbe() *SocketProbe {
	return &SocketProbe{}
}

// Listening implements Probe.
func (SocketProbe) Listening(ctx context.Context, port int) (bool, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return false, fmt.Errorf("list tcp sockets: %w", err)
	}
	for _, c := range conns {
		if c.Status == statusListen && int(c.Laddr.Port) == port {
			return true, nil
		}
	}
	return false, nil
}

// CheckPortsFree fails with ErrPortInUse when any target's port is already
// listening. It is a one-shot startup check and is not retried.
func CheckPortsFree(ctx context.Context, probe Probe, targets []model.Target) error {
	var busy []string
	for _, t := range targets {
		ok, err := probe.Listening(ctx, t.Port)
		if err != nil {
			return fmt.Errorf("readiness: check port %d: %w", t.Port, err)
		}
		if ok {
			busy = append(busy, strconv.Itoa(t.Port))
		}
	}
	if len(busy) > 0 {
		return fmt.Errorf("readiness: %w: %s", ErrPortInUse, strings.Join(busy, ", "))
	}
	return nil
}
