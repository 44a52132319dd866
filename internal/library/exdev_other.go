//go:build !unix

package library

// Rename on non-unix platforms falls through to the plain error path.
func isEXDEV(error) bool {
	return false
}
