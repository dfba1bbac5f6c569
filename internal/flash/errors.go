package flash

import "errors"

// Domain-specific errors for bank storage.
var (
	// ErrDownload is returned when the image could not be fetched.
	ErrDownload = errors.New("flash: download failed")

	// ErrVerify is returned when a fetched image fails size or checksum checks.
	ErrVerify = errors.New("flash: image verification failed")

	// ErrNoImage is returned when selecting a bank that holds no image.
	ErrNoImage = errors.New("flash: bank has no image")
)
