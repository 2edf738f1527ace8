//go:build windows

package window

func newPlatformBackend() (Backend, error) {
	return NewWin32Backend()
}
