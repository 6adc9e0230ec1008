//go:build !unix

package storage

import (
	"errors"

	"github.com/mmartingarciia/retroducer/internal/models"
)

func diskUsage(string) (models.StorageUsage, error) {
	return models.StorageUsage{}, errors.New("storage: usage not supported on this platform")
}
