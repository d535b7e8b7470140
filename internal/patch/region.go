// Package patch rewrites the sentinel-delimited region of a model file.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	StartMarker = "-- PATCH_AREA_START"
	EndMarker   = "-- PATCH_AREA_END"
)

var (
	// ErrRegionNotFound means the file has no start/end sentinel pair.
	ErrRegionNotFound = errors.New("patch region not found")
	// ErrMultipleRegions means more than one sentinel pair was found.
	ErrMultipleRegions = errors.New("multiple patch regions found")
)

// regionPattern stops at the first end marker after a start marker.
var regionPattern = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(StartMarker) + `.*?` + regexp.QuoteMeta(EndMarker))

// Region is a byte span [Start, End) covering both sentinels.
type Region struct {
	Start int
	End   int
}

// FindRegion locates the single patch region in content. found is false when
// there is no sentinel pair; err is ErrMultipleRegions when there are several.
func FindRegion(content []byte) (r Region, found bool, err error) {
	matches := regionPattern.FindAllIndex(content, 2)
	switch len(matches) {
	case 0:
		return Region{}, false, nil
	case 1:
		return Region{Start: matches[0][0], End: matches[0][1]}, true, nil
	default:
		return Region{}, false, ErrMultipleRegions
	}
}

// Block renders the replacement for a region: both sentinels around text.
func Block(text string) string {
	return StartMarker + "\n" + strings.Trim(text, "\n") + "\n" + EndMarker
}

// Replace returns content with the region swapped for Block(text).
func Replace(content []byte, text string) ([]byte, error) {
	r, found, err := FindRegion(content)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrRegionNotFound
	}

	var out bytes.Buffer
	out.Grow(len(content) + len(text))
	out.Write(content[:r.Start])
	out.WriteString(Block(text))
	out.Write(content[r.End:])
	return out.Bytes(), nil
}

// Current returns the text between the sentinels, without the markers.
func Current(content []byte) (string, error) {
	r, found, err := FindRegion(content)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrRegionNotFound
	}
	inner := content[r.Start+len(StartMarker) : r.End-len(EndMarker)]
	return strings.Trim(string(inner), "\n"), nil
}

// Apply rewrites the region of the file at path with text. It reports whether
// the file bytes changed; an identical rewrite leaves the file untouched.
func Apply(path, text string) (changed bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat patch target: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read patch target: %w", err)
	}

	patched, err := Replace(content, text)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}

	if bytes.Equal(content, patched) {
		return false, nil
	}

	if err := os.WriteFile(path, patched, info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write patch target: %w", err)
	}
	return true, nil
}
