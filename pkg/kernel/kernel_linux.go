//go:build linux

package kernel

import (
	"bytes"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	version     Version
	versionErr  error
	versionOnce sync.Once
)

func Get() (*Version, error) {
	versionOnce.Do(func() {
		uts := &unix.Utsname{}
		if versionErr = unix.Uname(uts); versionErr != nil {
			return
		}
		release := uts.Release[:]
		if i := bytes.IndexByte(release, 0); i >= 0 {
			release = release[:i]
		}
		version, versionErr = Parse(string(release))
	})
	if versionErr != nil {
		return nil, versionErr
	}
	v := version
	return &v, nil
}
