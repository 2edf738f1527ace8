//go:build !windows

package window

func newPlatformBackend() (Backend, error) {
	return NewX11Backend()
}
