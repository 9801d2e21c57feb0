package objstore

import (
	"strings"

	"github.com/freightcore/freightcore/pkg/fault"
)

// Coordinate uniquely identifies an artifact: which application, which
// release, which platform build, which file.
type Coordinate struct {
	App      string
	Version  string
	Platform string
	Filename string
}

// maxComponentLen bounds each coordinate component. S3 caps the whole key at
// 1024 bytes; four components of 255 plus separators stay inside that.
const maxComponentLen = 255

// Validate checks every component against the coordinate grammar: non-empty,
// at most 255 bytes, no path separators or control characters, and not a
// relative path element.
func (c Coordinate) Validate() error {
	for _, part := range []struct {
		name  string
		value string
	}{
		{"app", c.App},
		{"version", c.Version},
		{"platform", c.Platform},
		{"filename", c.Filename},
	} {
		if err := validateComponent(part.name, part.value); err != nil {
			return err
		}
	}
	return nil
}

func validateComponent(name, value string) error {
	if value == "" {
		return fault.NewInvalidf("coordinate %s must not be empty", name)
	}
	if len(value) > maxComponentLen {
		return fault.NewInvalidf("coordinate %s exceeds %d bytes", name, maxComponentLen)
	}
	if value == "." || value == ".." {
		return fault.NewInvalidf("coordinate %s must not be a relative path element", name)
	}
	for _, r := range value {
		switch {
		case r == '/' || r == '\\':
			return fault.NewInvalidf("coordinate %s must not contain path separators", name)
		case r < 0x20 || r == 0x7f:
			return fault.NewInvalidf("coordinate %s must not contain control characters", name)
		}
	}
	return nil
}

// Key maps the coordinate to its object key. The layout is
// app/version/platform/filename; callers treat the result as opaque.
func (c Coordinate) Key() string {
	return c.App + "/" + c.Version + "/" + c.Platform + "/" + c.Filename
}

// String returns the key form for logs.
func (c Coordinate) String() string {
	return c.Key()
}

// ParseKey recovers a coordinate from an object key produced by Key. Keys
// with a different shape (foreign objects sharing the bucket) fail with
// CodeInvalid.
func ParseKey(key string) (Coordinate, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return Coordinate{}, fault.NewInvalidf("key %q does not name an artifact", key)
	}
	c := Coordinate{
		App:      parts[0],
		Version:  parts[1],
		Platform: parts[2],
		Filename: parts[3],
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// ListPrefix builds the key prefix for a catalog listing. Empty components
// terminate the prefix: version may only be set when app is, platform only
// when version is.
func ListPrefix(app, version, platform string) (string, error) {
	if app == "" {
		return "", nil
	}
	if err := validateComponent("app", app); err != nil {
		return "", err
	}
	prefix := app + "/"
	if version == "" {
		if platform != "" {
			return "", fault.NewInvalid("platform prefix requires a version")
		}
		return prefix, nil
	}
	if err := validateComponent("version", version); err != nil {
		return "", err
	}
	prefix += version + "/"
	if platform == "" {
		return prefix, nil
	}
	if err := validateComponent("platform", platform); err != nil {
		return "", err
	}
	return prefix + platform + "/", nil
}
