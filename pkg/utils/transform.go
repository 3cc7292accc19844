package utils

// MbToBytes converts a size in megabytes to bytes.
func MbToBytes(mb int64) int64 {
	return mb * 1024 * 1024
}
