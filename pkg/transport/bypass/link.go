package bypass

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/google/gopacket"
)

// Link is the wire under a Device. Transmit must copy frame before it returns.
type Link interface {
	Transmit(frame []byte) error
	// Receive copies the next frame into p. ok is false when no frame is ready.
	Receive(p []byte) (n int, ok bool)
}

type heldFrame struct {
	data []byte
	wait int
}

// EchoLink answers every UDP frame with a reply carrying the same payload, addresses
// swapped. A reply becomes visible after delay unsuccessful Receive calls.
type EchoLink struct {
	mu      sync.Mutex
	delay   int
	pending *queue.Queue
	buf     gopacket.SerializeBuffer
}

func NewEchoLink(delay int) *EchoLink {
	if delay < 0 {
		delay = 0
	}
	return &EchoLink{
		delay:   delay,
		pending: queue.New(),
		buf:     gopacket.NewSerializeBuffer(),
	}
}

func (link *EchoLink) Transmit(frame []byte) error {
	f, err := DecodeFrame(frame)
	if err != nil {
		return err
	}
	reply := Frame{
		SrcMAC:  f.DstMAC,
		DstMAC:  f.SrcMAC,
		Src:     f.Dst,
		Dst:     f.Src,
		Payload: f.Payload,
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if err = EncodeFrame(link.buf, reply); err != nil {
		return err
	}
	data := make([]byte, len(link.buf.Bytes()))
	copy(data, link.buf.Bytes())
	link.pending.Add(&heldFrame{data: data, wait: link.delay})
	return nil
}

func (link *EchoLink) Receive(p []byte) (n int, ok bool) {
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.pending.Length() == 0 {
		return
	}
	head := link.pending.Peek().(*heldFrame)
	if head.wait > 0 {
		head.wait--
		return
	}
	link.pending.Remove()
	n = copy(p, head.data)
	ok = true
	return
}

// Pending is the number of replies not yet received.
func (link *EchoLink) Pending() int {
	link.mu.Lock()
	defer link.mu.Unlock()
	return link.pending.Length()
}

// LoopbackLink hands transmitted frames straight back to the device that sent them.
type LoopbackLink struct {
	mu     sync.Mutex
	frames *queue.Queue
}

func NewLoopbackLink() *LoopbackLink {
	return &LoopbackLink{frames: queue.New()}
}

func (link *LoopbackLink) Transmit(frame []byte) error {
	data := make([]byte, len(frame))
	copy(data, frame)
	link.mu.Lock()
	link.frames.Add(data)
	link.mu.Unlock()
	return nil
}

func (link *LoopbackLink) Receive(p []byte) (n int, ok bool) {
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.frames.Length() == 0 {
		return
	}
	n = copy(p, link.frames.Remove().([]byte))
	ok = true
	return
}
