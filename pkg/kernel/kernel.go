// Package kernel reads the running kernel version. Backend selection uses it to decide
// whether io_uring can carry datagram sends.
package kernel

import "fmt"

type Version struct {
	Kernel int
	Major  int
	Minor  int
	Flavor string
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d%s", v.Kernel, v.Major, v.Minor, v.Flavor)
}

func Compare(a, b Version) int {
	if a.Kernel > b.Kernel {
		return 1
	} else if a.Kernel < b.Kernel {
		return -1
	}

	if a.Major > b.Major {
		return 1
	} else if a.Major < b.Major {
		return -1
	}

	if a.Minor > b.Minor {
		return 1
	} else if a.Minor < b.Minor {
		return -1
	}

	return 0
}

// Check reports whether the running kernel is at least k.major.minor.
func Check(k, major, minor int) (bool, error) {
	v, err := Get()
	if err != nil {
		return false, err
	}
	if Compare(*v, Version{Kernel: k, Major: major, Minor: minor}) < 0 {
		return false, nil
	}
	return true, nil
}

// Parse reads a release string such as "6.8.0-45-generic".
func Parse(release string) (v Version, err error) {
	var partial string
	parsed, _ := fmt.Sscanf(release, "%d.%d%s", &v.Kernel, &v.Major, &partial)
	if parsed < 2 {
		err = fmt.Errorf("cannot parse kernel version: %s", release)
		return
	}
	parsed, _ = fmt.Sscanf(partial, ".%d%s", &v.Minor, &v.Flavor)
	if parsed < 1 {
		v.Flavor = partial
	}
	return
}
