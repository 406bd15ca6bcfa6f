// Package bypass is a user-space NIC: frames are built and parsed in process, kept in a
// pooled packet memory and moved through TX and RX rings that only advance when polled.
// A Link stands in for the physical port.
package bypass

import (
	"net"
	"net/netip"
	"sync"
	"syscall"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/bytebuffers"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/eapache/queue"
	"github.com/google/gopacket"
)

const (
	Name = "bypass"

	DefaultTxRing  = 256
	DefaultRxBurst = 32

	ephemeralFirst = 49152
	ephemeralLast  = 65535
)

var (
	ErrAddrInUse    = errors.Define("address already in use")
	ErrAddrNotLocal = errors.Define("address is not the device address")
	ErrTxRingFull   = errors.Define("tx ring full")
)

var (
	DefaultAddress    = netip.MustParseAddr("12.12.12.5")
	DefaultMAC        = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DefaultGatewayMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

type Options struct {
	Address    netip.Addr
	MAC        net.HardwareAddr
	GatewayMAC net.HardwareAddr
	// FrameSize is the size of every packet buffer, headers included.
	FrameSize int
	// PoolSize bounds the packet buffers out at once, TX and RX together.
	PoolSize int
	TxRing   int
	RxBurst  int
	// DeferTx leaves transmitted frames on the TX ring until the next Poll.
	DeferTx bool
	Link    Link
}

type txFrame struct {
	flow    *Flow
	id      uint64
	frame   []byte
	payload int
}

type rxFrame struct {
	buf     []byte
	payload []byte
	from    netip.AddrPort
}

// Stats counts what the device did with frames.
type Stats struct {
	TxFrames  uint64
	RxFrames  uint64
	RxDropped uint64
}

// Device owns the rings, the packet pool and the port table.
type Device struct {
	mu       sync.Mutex
	options  Options
	pool     *bytebuffers.Pool
	encoder  gopacket.SerializeBuffer
	txq      *queue.Queue
	flows    map[uint16]*Flow
	nextPort uint16
	stats    Stats
	closed   bool
}

func New(options Options) (*Device, error) {
	if options.Link == nil {
		return nil, errors.New("bypass device needs a link", errors.WithMeta("pkg", Name))
	}
	if !options.Address.IsValid() {
		options.Address = DefaultAddress
	}
	options.Address = options.Address.Unmap()
	if !options.Address.Is4() {
		return nil, errors.New(
			"bypass device address must be IPv4",
			errors.WithMeta("pkg", Name),
			errors.WithMeta("address", options.Address.String()),
		)
	}
	if len(options.MAC) == 0 {
		options.MAC = DefaultMAC
	}
	if len(options.GatewayMAC) == 0 {
		options.GatewayMAC = DefaultGatewayMAC
	}
	if options.FrameSize <= HeaderLen {
		options.FrameSize = bytebuffers.DefaultSize
	}
	if options.TxRing < 1 {
		options.TxRing = DefaultTxRing
	}
	if options.RxBurst < 1 {
		options.RxBurst = DefaultRxBurst
	}
	return &Device{
		options:  options,
		pool:     bytebuffers.New(options.FrameSize, options.PoolSize),
		encoder:  gopacket.NewSerializeBufferExpectedSize(HeaderLen, options.FrameSize),
		txq:      queue.New(),
		flows:    make(map[uint16]*Flow),
		nextPort: ephemeralFirst,
	}, nil
}

func (dev *Device) Name() string {
	return Name
}

// Open creates a flow on an ephemeral port. Only IPv4 datagrams are carried.
func (dev *Device) Open(kind transport.Kind, family int) (transport.Binding, error) {
	if kind != transport.Datagram || family != syscall.AF_INET {
		return nil, transport.ErrUnsupported
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, transport.ErrClosed
	}
	port, ok := dev.ephemeralLocked()
	if !ok {
		return nil, errors.From(ErrAddrInUse, errors.WithMeta("reason", "no free ephemeral port"))
	}
	flow := &Flow{
		dev:   dev,
		local: netip.AddrPortFrom(dev.options.Address, port),
		rxq:   queue.New(),
	}
	dev.flows[port] = flow
	return flow, nil
}

func (dev *Device) ephemeralLocked() (uint16, bool) {
	for i := 0; i <= ephemeralLast-ephemeralFirst; i++ {
		port := dev.nextPort
		if dev.nextPort == ephemeralLast {
			dev.nextPort = ephemeralFirst
		} else {
			dev.nextPort++
		}
		if _, used := dev.flows[port]; !used {
			return port, true
		}
	}
	return 0, false
}

// Poll drains the TX ring and moves one receive burst onto the flows' RX queues.
func (dev *Device) Poll() error {
	dev.mu.Lock()
	if dev.closed {
		dev.mu.Unlock()
		return transport.ErrClosed
	}
	completed := dev.transmitLocked()
	dev.receiveLocked()
	dev.mu.Unlock()
	deliver(completed)
	return nil
}

type delivery struct {
	cb transport.CompletionCallback
	c  transport.Completion
}

func deliver(ds []delivery) {
	for _, d := range ds {
		if d.cb != nil {
			d.cb(d.c)
		}
	}
}

func (dev *Device) transmitLocked() (ds []delivery) {
	for dev.txq.Length() > 0 {
		tx := dev.txq.Remove().(*txFrame)
		err := dev.options.Link.Transmit(tx.frame)
		dev.pool.Put(tx.frame[:cap(tx.frame)])
		c := transport.Completion{ID: tx.id, N: tx.payload}
		if err != nil {
			c.N = 0
			c.Err = errors.New("transmit failed", errors.WithMeta("pkg", Name), errors.WithWrap(err))
		} else {
			dev.stats.TxFrames++
		}
		if tx.flow.closed {
			continue
		}
		ds = append(ds, delivery{cb: tx.flow.cb, c: c})
	}
	return
}

func (dev *Device) receiveLocked() {
	for i := 0; i < dev.options.RxBurst; i++ {
		buf, err := dev.pool.Get()
		if err != nil {
			return
		}
		n, ok := dev.options.Link.Receive(buf)
		if !ok {
			dev.pool.Put(buf)
			return
		}
		f, decodeErr := DecodeFrame(buf[:n])
		if decodeErr != nil || f.Dst.Addr() != dev.options.Address {
			dev.stats.RxDropped++
			dev.pool.Put(buf)
			continue
		}
		flow, has := dev.flows[f.Dst.Port()]
		if !has {
			dev.stats.RxDropped++
			dev.pool.Put(buf)
			continue
		}
		dev.stats.RxFrames++
		flow.rxq.Add(&rxFrame{buf: buf, payload: f.Payload, from: f.Src})
	}
}

func (dev *Device) Stats() Stats {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.stats
}

// InUse is the number of packet buffers currently held by rings and queues.
func (dev *Device) InUse() int64 {
	return dev.pool.InUse()
}

func (dev *Device) Address() netip.Addr {
	return dev.options.Address
}

func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return transport.ErrClosed
	}
	dev.closed = true
	for dev.txq.Length() > 0 {
		tx := dev.txq.Remove().(*txFrame)
		dev.pool.Put(tx.frame[:cap(tx.frame)])
	}
	for port, flow := range dev.flows {
		flow.closeLocked()
		delete(dev.flows, port)
	}
	return nil
}
