package bypass

import (
	"net"
	"net/netip"

	"github.com/brickingsoft/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// HeaderLen is the Ethernet, IPv4 and UDP overhead of every frame.
const HeaderLen = 14 + 20 + 8

var ErrMalformedFrame = errors.Define("malformed frame")

var serializeOptions = gopacket.SerializeOptions{
	ComputeChecksums: true,
	FixLengths:       true,
}

// Frame is the decoded view of an Ethernet/IPv4/UDP frame. Payload aliases the frame.
type Frame struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	Src     netip.AddrPort
	Dst     netip.AddrPort
	Payload []byte
}

// EncodeFrame serializes f into buf, replacing its previous contents.
func EncodeFrame(buf gopacket.SerializeBuffer, f Frame) error {
	if !f.Src.Addr().Is4() || !f.Dst.Addr().Is4() {
		return errors.From(ErrMalformedFrame, errors.WithWrap(errors.New("frames carry IPv4 only")))
	}
	eth := &layers.Ethernet{
		SrcMAC:       f.SrcMAC,
		DstMAC:       f.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(f.Src.Addr().AsSlice()),
		DstIP:    net.IP(f.Dst.Addr().AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(f.Src.Port()),
		DstPort: layers.UDPPort(f.Dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	if err := buf.Clear(); err != nil {
		return err
	}
	return gopacket.SerializeLayers(buf, serializeOptions, eth, ip, udp, gopacket.Payload(f.Payload))
}

// DecodeFrame parses an Ethernet/IPv4/UDP frame without copying it.
func DecodeFrame(data []byte) (f Frame, err error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		err = errors.From(ErrMalformedFrame, errors.WithWrap(errLayer.Error()))
		return
	}
	ethLayer := packet.Layer(layers.LayerTypeEthernet)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if ethLayer == nil || ipLayer == nil || udpLayer == nil {
		err = ErrMalformedFrame
		return
	}
	eth := ethLayer.(*layers.Ethernet)
	ip := ipLayer.(*layers.IPv4)
	udp := udpLayer.(*layers.UDP)

	src, srcOk := netip.AddrFromSlice(ip.SrcIP)
	dst, dstOk := netip.AddrFromSlice(ip.DstIP)
	if !srcOk || !dstOk {
		err = ErrMalformedFrame
		return
	}
	f = Frame{
		SrcMAC:  eth.SrcMAC,
		DstMAC:  eth.DstMAC,
		Src:     netip.AddrPortFrom(src.Unmap(), uint16(udp.SrcPort)),
		Dst:     netip.AddrPortFrom(dst.Unmap(), uint16(udp.DstPort)),
		Payload: udp.Payload,
	}
	return
}
