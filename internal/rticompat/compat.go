// Package rticompat guards the connection against an agent subprocess
// whose advertised protocol version is older than this runtime requires.
package rticompat

import (
	stderrors "errors"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Version is a parsed <major.minor.patch> semantic version.
type Version struct {
	Major, Minor, Patch int
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// ParseUserAgent parses a "<product>/<major.minor.patch>" user agent
// string (anything after the version, separated by a space, is ignored).
func ParseUserAgent(userAgent string) (product string, version Version, err error) {
	fields := strings.Fields(userAgent)
	if len(fields) == 0 {
		return "", Version{}, errors.Newf("rticompat: empty userAgent")
	}
	productVersion := fields[0]
	slash := strings.LastIndex(productVersion, "/")
	if slash < 0 {
		return "", Version{}, errors.Newf("rticompat: userAgent %q missing product/version separator", userAgent)
	}
	product = productVersion[:slash]
	versionStr := productVersion[slash+1:]

	parts := strings.SplitN(versionStr, ".", 3)
	if len(parts) != 3 {
		return "", Version{}, errors.Newf("rticompat: userAgent %q version %q is not major.minor.patch", userAgent, versionStr)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return "", Version{}, errors.Wrapf(convErr, "rticompat: userAgent %q version component %q", userAgent, p)
		}
		nums[i] = n
	}
	return product, Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Guard validates an initialize-reply userAgent against an optional
// minimum version. A zero-value MinVersion disables the check.
type Guard struct {
	MinVersion Version
	Required   bool
}

// Check parses userAgent and, if a minimum version is configured, fails
// when the parsed version is older.
func (g Guard) Check(userAgent string) (product string, version Version, err error) {
	product, version, err = ParseUserAgent(userAgent)
	if err != nil {
		if !g.Required {
			return "", Version{}, nil
		}
		return "", Version{}, err
	}
	if g.MinVersion != (Version{}) && version.Less(g.MinVersion) {
		return product, version, errors.Newf("rticompat: agent %s/%s is older than required minimum %s", product, version, g.MinVersion)
	}
	return product, version, nil
}

// TeardownJoinError reports both a compatibility-guard failure and a
// subsequent shutdown failure together, since losing either would hide a
// real cause.
func TeardownJoinError(guardErr, shutdownErr error) error {
	if guardErr == nil {
		return shutdownErr
	}
	if shutdownErr == nil {
		return guardErr
	}
	return stderrors.Join(guardErr, shutdownErr)
}
