package versions

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ConfigFormat is the configuration file format written by this build
const ConfigFormat = "1.1"

// supportedConfigFormats is the range of configuration formats this build can read
const supportedConfigFormats = ">= 1.0, < 2.0"

// CheckConfigFormat returns an error when a configuration file declares a
// format this build cannot read. An empty format is treated as the current one.
func CheckConfigFormat(format string) error {
	if format == "" {
		return nil
	}
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("invalid config format version %q: %w", format, err)
	}
	c, err := semver.NewConstraint(supportedConfigFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("config format %s is not supported (want %s)", format, supportedConfigFormats)
	}
	return nil
}

// IsNewerFormat reports whether a is strictly newer than b. Unparseable
// versions fall back to lexicographic comparison.
func IsNewerFormat(a, b string) bool {
	av, errA := semver.NewVersion(a)
	bv, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return av.GreaterThan(bv)
}
