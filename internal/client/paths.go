package client

import (
	"errors"
	"path/filepath"
	"strings"
)

// resolveSavePath places savePath under prefix and refuses anything that
// would land outside it.
func resolveSavePath(prefix, savePath string) (string, error) {
	savePath = strings.TrimSpace(savePath)
	if savePath == "" {
		return "", errors.New("missing save path")
	}
	if filepath.IsAbs(savePath) || filepath.VolumeName(savePath) != "" {
		return "", errors.New("save path must be relative to the save path prefix")
	}
	clean := filepath.Clean(savePath)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("save path must stay within the save path prefix")
	}
	if strings.HasSuffix(savePath, "/") || strings.HasSuffix(savePath, `\`) {
		return "", errors.New("save path must name a file")
	}
	if prefix == "" {
		return clean, nil
	}
	return filepath.Join(prefix, clean), nil
}
