//go:build unix

package storage

import (
	"fmt"

	"github.com/mmartingarciia/retroducer/internal/models"
	"golang.org/x/sys/unix"
)

func diskUsage(path string) (models.StorageUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return models.StorageUsage{}, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return models.StorageUsage{
		Total: uint64(st.Blocks) * bsize,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
