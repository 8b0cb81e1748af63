package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultDeviceDir is where V4L2 device nodes live.
const DefaultDeviceDir = "/dev"

// Discover lists the video* device nodes in dir ordered by their index, so
// video0 comes before video10.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list video devices in %s: %w", dir, err)
	}

	type dev struct {
		index int
		path  string
	}
	var devs []dev
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		devs = append(devs, dev{index: idx, path: filepath.Join(dir, name)})
	}
	sort.Slice(devs, func(i, j int) bool { return devs[i].index < devs[j].index })

	paths := make([]string, len(devs))
	for i, d := range devs {
		paths[i] = d.path
	}
	return paths, nil
}
