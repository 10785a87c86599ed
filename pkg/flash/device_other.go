//go:build !linux

package flash

// BlockDeviceSize is not supported off Linux and always returns -1.
func BlockDeviceSize(path string) int64 {
	return -1
}
