package thumbnail

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Info describes a thumbnail image on disk
type Info struct {
	Width  int
	Height int
	Format string
	Size   int64
}

// Inspect reads the image header of path without decoding pixel data
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read image header: %w", err)
	}

	return Info{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
		Size:   st.Size(),
	}, nil
}
