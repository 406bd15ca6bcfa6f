//go:build unix

// Package sys converts between netip addresses and the socket address forms the socket
// and io_uring bindings hand to the kernel.
package sys

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Family returns AF_INET for IPv4 (including IPv4-mapped IPv6) and AF_INET6 otherwise.
func Family(ap netip.AddrPort) int {
	if ap.Addr().Unmap().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// AddrPortToSockaddr converts ap for a socket of the given family.
// An IPv4 address headed for an AF_INET6 socket is sent as IPv4-mapped IPv6.
func AddrPortToSockaddr(family int, ap netip.AddrPort) (sa unix.Sockaddr, err error) {
	if !ap.IsValid() {
		err = &net.AddrError{Err: "invalid address", Addr: ap.String()}
		return
	}
	addr := ap.Addr()
	switch family {
	case unix.AF_INET:
		addr = addr.Unmap()
		if !addr.Is4() {
			err = &net.AddrError{Err: "non-IPv4 address", Addr: addr.String()}
			return
		}
		sa = &unix.SockaddrInet4{
			Addr: addr.As4(),
			Port: int(ap.Port()),
		}
		break
	case unix.AF_INET6:
		zoneId := uint32(0)
		if zone := addr.Zone(); zone != "" {
			if ifi, ifiErr := net.InterfaceByName(zone); ifiErr == nil {
				zoneId = uint32(ifi.Index)
			}
		}
		sa = &unix.SockaddrInet6{
			Addr:   addr.As16(),
			Port:   int(ap.Port()),
			ZoneId: zoneId,
		}
		break
	default:
		err = unix.EAFNOSUPPORT
		break
	}
	return
}

// SockaddrToAddrPort is the inverse of AddrPortToSockaddr. IPv4-mapped addresses are unmapped.
func SockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(s.Addr), uint16(s.Port))
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(s.Addr).Unmap()
		if s.ZoneId != 0 && addr.Is6() {
			if ifi, err := net.InterfaceByIndex(int(s.ZoneId)); err == nil {
				addr = addr.WithZone(ifi.Name)
			}
		}
		return netip.AddrPortFrom(addr, uint16(s.Port))
	default:
		return netip.AddrPort{}
	}
}
