//go:build linux

package systemd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

// SelfUnit looks up the unit running this process over D-Bus. Processes not
// started by systemd resolve to a scope or session unit, which is reported
// as is.
func SelfUnit(ctx context.Context) (*UnitStatus, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	defer conn.Close()

	name, err := conn.GetUnitNameByPID(ctx, uint32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("resolve unit: %w", err)
	}
	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unit properties %s: %w", name, err)
	}
	st := &UnitStatus{
		Name:        name,
		Active:      getString(props, "ActiveState"),
		SubState:    getString(props, "SubState"),
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
	}
	if strings.HasSuffix(name, ".service") {
		if sp, err := conn.GetUnitTypePropertiesContext(ctx, name, "Service"); err == nil {
			st.Restarts, _ = sp["NRestarts"].(uint32)
			st.Memory = memoryValue(sp)
		}
	}
	return st, nil
}
