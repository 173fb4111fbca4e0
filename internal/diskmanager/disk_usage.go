// disk_usage.go - free space of the staging filesystem
package diskmanager

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/florai/contrib-pipeline/internal/errors"
)

// MinFreeBytes is the free space below which staging is considered
// degraded: one more maximum size upload would not fit comfortably.
const MinFreeBytes = 64 << 20

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64 // available to unprivileged users
}

// UsageFunc reports the disk space of the filesystem holding path.
type UsageFunc func(ctx context.Context, path string) (DiskSpaceInfo, error)

// GetDetailedDiskUsage returns the total, used and available bytes of the
// filesystem containing path.
func GetDetailedDiskUsage(ctx context.Context, path string) (DiskSpaceInfo, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskSpaceInfo{}, errors.New(err).
			Component("diskmanager").
			Category(errors.CategorySystem).
			Context("operation", "disk_usage").
			Build()
	}
	return DiskSpaceInfo{
		TotalBytes: usage.Total,
		UsedBytes:  usage.Used,
		FreeBytes:  usage.Free,
	}, nil
}
