//go:build linux

package sys

import (
	"net/netip"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AddrPortToRawSockaddr fills a raw sockaddr for msghdr based submissions.
func AddrPortToRawSockaddr(family int, ap netip.AddrPort) (name *syscall.RawSockaddrAny, nameLen uint32, err error) {
	sa, saErr := AddrPortToSockaddr(family, ap)
	if saErr != nil {
		err = saErr
		return
	}
	name = &syscall.RawSockaddrAny{}
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		raw := (*syscall.RawSockaddrInet4)(unsafe.Pointer(name))
		raw.Family = syscall.AF_INET
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(s.Port >> 8)
		p[1] = byte(s.Port)
		raw.Addr = s.Addr
		nameLen = uint32(syscall.SizeofSockaddrInet4)
		break
	case *unix.SockaddrInet6:
		raw := (*syscall.RawSockaddrInet6)(unsafe.Pointer(name))
		raw.Family = syscall.AF_INET6
		p := (*[2]byte)(unsafe.Pointer(&raw.Port))
		p[0] = byte(s.Port >> 8)
		p[1] = byte(s.Port)
		raw.Scope_id = s.ZoneId
		raw.Addr = s.Addr
		nameLen = uint32(syscall.SizeofSockaddrInet6)
		break
	}
	return
}
