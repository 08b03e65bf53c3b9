// Package hoststats reports host memory pressure alongside the
// Orchestrator's AtCapacity responses, so operators can distinguish a
// function's configured max_capacity from actual host resource
// exhaustion. Grounded on the pack's gopsutil usage pattern
// (github.com/shirou/gopsutil/v4), a dependency not exercised by the
// teacher itself but present across the pack for host-level introspection.
package hoststats

import (
	"context"

	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time read of host memory pressure.
type Snapshot struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedPercent    float64
}

// Read samples current host memory stats.
func Read(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		TotalBytes:     vm.Total,
		AvailableBytes: vm.Available,
		UsedPercent:    vm.UsedPercent,
	}, nil
}
