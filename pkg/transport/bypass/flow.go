package bypass

import (
	"net/netip"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/eapache/queue"
)

// Flow is one UDP port on a Device.
type Flow struct {
	dev    *Device
	local  netip.AddrPort
	remote netip.AddrPort
	rxq    *queue.Queue
	cb     transport.CompletionCallback
	closed bool
}

// Send frames payload and either transmits it now or leaves it on the TX ring.
func (flow *Flow) Send(id uint64, payload []byte, to netip.AddrPort) (transport.Disposition, error) {
	dev := flow.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if flow.closed {
		return transport.Accepted, transport.ErrClosed
	}
	if !to.IsValid() {
		to = flow.remote
	}
	if !to.IsValid() {
		return transport.Accepted, transport.ErrNotConnected
	}
	to = netip.AddrPortFrom(to.Addr().Unmap(), to.Port())
	if !to.Addr().Is4() {
		return transport.Accepted, transport.ErrUnsupported
	}
	if len(payload) > flow.maxPayload() {
		return transport.Accepted, transport.ErrMessageTooLarge
	}
	err := EncodeFrame(dev.encoder, Frame{
		SrcMAC:  dev.options.MAC,
		DstMAC:  dev.options.GatewayMAC,
		Src:     flow.local,
		Dst:     to,
		Payload: payload,
	})
	if err != nil {
		return transport.Accepted, err
	}
	queued := dev.options.DeferTx || dev.txq.Length() > 0
	if queued && dev.txq.Length() >= dev.options.TxRing {
		return transport.Accepted, ErrTxRingFull
	}
	buf, err := dev.pool.Get()
	if err != nil {
		return transport.Accepted, err
	}
	frame := buf[:copy(buf, dev.encoder.Bytes())]
	if queued {
		dev.txq.Add(&txFrame{flow: flow, id: id, frame: frame, payload: len(payload)})
		return transport.Deferred, nil
	}
	err = dev.options.Link.Transmit(frame)
	dev.pool.Put(buf)
	if err != nil {
		return transport.Accepted, errors.New("transmit failed", errors.WithMeta("pkg", Name), errors.WithWrap(err))
	}
	dev.stats.TxFrames++
	return transport.Accepted, nil
}

// TryReceive runs a receive burst when the flow has nothing queued.
func (flow *Flow) TryReceive(p []byte) (n int, from netip.AddrPort, ok bool, err error) {
	dev := flow.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if flow.closed {
		err = transport.ErrClosed
		return
	}
	if flow.rxq.Length() == 0 {
		dev.receiveLocked()
	}
	if flow.rxq.Length() == 0 {
		return
	}
	rx := flow.rxq.Remove().(*rxFrame)
	n = copy(p, rx.payload)
	from = rx.from
	ok = true
	dev.pool.Put(rx.buf)
	return
}

func (flow *Flow) RegisterCompletionCallback(cb transport.CompletionCallback) {
	flow.dev.mu.Lock()
	flow.cb = cb
	flow.dev.mu.Unlock()
}

// Poll polls the whole device.
func (flow *Flow) Poll() error {
	flow.dev.mu.Lock()
	closed := flow.closed
	flow.dev.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	return flow.dev.Poll()
}

// Bind moves the flow to addr. The address must be the device address or unspecified;
// port zero keeps the current port.
func (flow *Flow) Bind(addr netip.AddrPort) error {
	dev := flow.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if flow.closed {
		return transport.ErrClosed
	}
	ip := addr.Addr().Unmap()
	if !ip.IsUnspecified() && ip != dev.options.Address {
		return errors.From(ErrAddrNotLocal, errors.WithMeta("address", addr.String()))
	}
	port := addr.Port()
	if port == 0 || port == flow.local.Port() {
		return nil
	}
	if _, used := dev.flows[port]; used {
		return errors.From(ErrAddrInUse, errors.WithMeta("address", addr.String()))
	}
	delete(dev.flows, flow.local.Port())
	flow.local = netip.AddrPortFrom(dev.options.Address, port)
	dev.flows[port] = flow
	return nil
}

// Connect records the default destination.
func (flow *Flow) Connect(addr netip.AddrPort) error {
	flow.dev.mu.Lock()
	defer flow.dev.mu.Unlock()
	if flow.closed {
		return transport.ErrClosed
	}
	if !addr.Addr().Unmap().Is4() {
		return transport.ErrUnsupported
	}
	flow.remote = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	return nil
}

func (flow *Flow) LocalAddr() netip.AddrPort {
	flow.dev.mu.Lock()
	defer flow.dev.mu.Unlock()
	return flow.local
}

func (flow *Flow) RemoteAddr() netip.AddrPort {
	flow.dev.mu.Lock()
	defer flow.dev.mu.Unlock()
	return flow.remote
}

func (flow *Flow) MaxPayload() int {
	return flow.maxPayload()
}

func (flow *Flow) maxPayload() int {
	return flow.dev.options.FrameSize - HeaderLen
}

func (flow *Flow) Kind() transport.Kind {
	return transport.Datagram
}

func (flow *Flow) Close() error {
	dev := flow.dev
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if flow.closed {
		return transport.ErrClosed
	}
	if dev.flows[flow.local.Port()] == flow {
		delete(dev.flows, flow.local.Port())
	}
	flow.closeLocked()
	return nil
}

// closeLocked drops the flow's queued receives and its frames still waiting on the TX ring.
func (flow *Flow) closeLocked() {
	dev := flow.dev
	flow.closed = true
	for flow.rxq.Length() > 0 {
		dev.pool.Put(flow.rxq.Remove().(*rxFrame).buf)
	}
	for n := dev.txq.Length(); n > 0; n-- {
		tx := dev.txq.Remove().(*txFrame)
		if tx.flow == flow {
			dev.pool.Put(tx.frame[:cap(tx.frame)])
			continue
		}
		dev.txq.Add(tx)
	}
}
