//go:build windows

package flatfile

// lockExclusive is a no-op on Windows: os.OpenFile's sharing semantics
// already prevent a second writer from opening the same image.
func lockExclusive(fd int) error { return nil }
