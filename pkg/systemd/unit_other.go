//go:build !linux

package systemd

import "context"

func SelfUnit(context.Context) (*UnitStatus, error) { return nil, ErrUnsupported }
