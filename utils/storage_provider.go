package utils

import (
	"os"
	"strings"
)

const (
	StorageProviderGCS  = "gcs"
	StorageProviderNone = "none"
)

// GetStorageProvider decides where raw uploads are archived.
// STORAGE_PROVIDER wins; otherwise GCS is used when GCS_BUCKET is set.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider != "" {
		return provider
	}
	if strings.TrimSpace(os.Getenv("GCS_BUCKET")) != "" {
		return StorageProviderGCS
	}
	return StorageProviderNone
}
