//go:build !linux

package device

// OpenURing is only available on Linux.
func OpenURing(path string) (Channel, error) {
	return nil, ErrUnsupported
}
