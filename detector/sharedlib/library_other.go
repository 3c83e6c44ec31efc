//go:build !darwin && !linux

package sharedlib

import "github.com/c360/resourcebus/errors"

func openLibrary(string, Symbols) (Library, error) {
	return nil, errors.ErrDetectorUnavailable
}
