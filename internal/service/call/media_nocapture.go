//go:build !(linux && capture)

package call

// NewDeviceSource reports that this build has no capture drivers
func NewDeviceSource() (Source, error) {
	return nil, ErrCaptureUnsupported
}
