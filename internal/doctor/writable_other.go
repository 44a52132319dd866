//go:build !unix

package doctor

import "os"

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".crsm-doctor-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name) == nil
}
