package ffmpeg

import (
	"path/filepath"
)

// renderDeviceGlob matches DRM render nodes usable by VAAPI.
var renderDeviceGlob = "/dev/dri/renderD*"

// DetectVAAPIDevice returns the first DRM render node, preferring
// renderD128. It returns "" when the host has none.
func DetectVAAPIDevice() string {
	matches, err := filepath.Glob(renderDeviceGlob)
	if err != nil || len(matches) == 0 {
		return ""
	}
	preferred := filepath.Join(filepath.Dir(renderDeviceGlob), "renderD128")
	for _, m := range matches {
		if m == preferred {
			return m
		}
	}
	return matches[0]
}
