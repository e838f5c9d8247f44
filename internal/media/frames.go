package media

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// FrameDir is a camera that replays still images from disk, one per call
// to Frame, cycling forever.
type FrameDir struct {
	paths []string

	mu   sync.Mutex
	next int
}

// OpenFrames loads the JPEG and PNG files at path, a single image or a
// directory of images played in name order.
func OpenFrames(path string) (*FrameDir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && isImage(e.Name()) {
				paths = append(paths, filepath.Join(path, e.Name()))
			}
		}
		slices.Sort(paths)
	} else if isImage(path) {
		paths = []string{path}
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no jpeg or png frames in %s", path)
	}
	return &FrameDir{paths: paths}, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Len returns the number of frames.
func (f *FrameDir) Len() int {
	return len(f.paths)
}

// Frame decodes the next image. Unreadable files are skipped.
func (f *FrameDir) Frame() (image.Image, bool) {
	f.mu.Lock()
	path := f.paths[f.next]
	f.next = (f.next + 1) % len(f.paths)
	f.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("failed to open frame")
		return nil, false
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("failed to decode frame")
		return nil, false
	}
	return img, true
}
