//go:build linux

// Package rawinject implements a driver.Adapter backed by raw 802.11
// action-frame injection over an AF_PACKET socket: a BPF-filtered raw
// socket capture, a fixed radiotap header for transmission, and bounded
// retransmission while waiting for a link-layer ACK.
package rawinject

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/davidb137/spsp/pkg/driver"
	"github.com/davidb137/spsp/pkg/spspaddr"
)

// 802.11 frame-control type/subtype bytes this adapter cares about.
const (
	frameCtrlAction = 0xd0 // management, action subtype
	frameCtrlAck    = 0xd4 // control, ACK subtype
)

// radiotapMinLen is the minimal (no optional present fields) radiotap
// header length assumed by the kernel-level BPF pre-filter below; it is
// only a coarse pre-filter, so a driver that prepends a longer radiotap
// header merely makes the pre-filter less selective, not incorrect —
// userspace re-validates the frame type after fully parsing the radiotap
// header (see parseRadiotap).
const radiotapMinLen = 8

const (
	actionHeaderLen  = 2 /* frame control */ + 2 /* duration */ + 6*3 /* addr1-3 */ + 2 /* seq ctrl */ + 1 /* category */
	maxActionPayload = 250
)

// Config holds the raw-injection adapter's tunables.
type Config struct {
	// Interface is the name of the monitor-mode 802.11 interface to bind.
	Interface string

	// Retransmits bounds how many additional send attempts are made while
	// waiting for a link-layer ACK before Send reports non-delivery.
	Retransmits int

	// AckTimeout bounds how long a single attempt waits for an ACK.
	AckTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Retransmits <= 0 {
		c.Retransmits = 3
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 50 * time.Millisecond
	}
}

// Adapter is a driver.Adapter backed by AF_PACKET raw 802.11 frame
// injection and capture.
type Adapter struct {
	cfg   Config
	fd    int
	local spspaddr.Addr

	mu     sync.Mutex
	recvCB driver.RecvCB
	sendCB driver.SendCB

	// txMu serializes one in-flight send; ackCh is signaled by the
	// capture loop when a matching ACK is observed.
	txMu  sync.Mutex
	ackMu sync.Mutex
	ackCh chan struct{}

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open binds a raw AF_PACKET socket to cfg.Interface, attaches the
// capture filter, and starts the receive loop. The interface's own
// hardware address becomes this adapter's local address.
func Open(cfg Config) (*Adapter, error) {
	cfg.setDefaults()

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("rawinject: lookup interface %q: %w", cfg.Interface, err)
	}
	if len(iface.HardwareAddr) != spspaddr.Size {
		return nil, fmt.Errorf("rawinject: interface %q hardware address is not %d bytes", cfg.Interface, spspaddr.Size)
	}
	var local spspaddr.Addr
	copy(local[:], iface.HardwareAddr)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("rawinject: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawinject: bind %q: %w", cfg.Interface, err)
	}
	if err := attachFilter(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawinject: attach filter: %w", err)
	}

	a := &Adapter{
		cfg:     cfg,
		fd:      fd,
		local:   local,
		closeCh: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.captureLoop()
	return a, nil
}

// attachFilter installs a coarse SO_ATTACH_FILTER pre-filter matching
// 802.11 action and ACK frames at the assumed minimal radiotap offset.
func attachFilter(fd int) error {
	prog, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: radiotapMinLen, Size: 1},
		bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: 0xfc},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: frameCtrlAction & 0xfc, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: frameCtrlAck & 0xfc, SkipTrue: 0, SkipFalse: 1},
		bpf.RetConstant{Val: 0xffff},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return err
	}

	raw := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		raw[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(raw)), Filter: &raw[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog)
}

func (a *Adapter) AddPeer(spspaddr.Addr) error    { return nil }
func (a *Adapter) RemovePeer(spspaddr.Addr) error { return nil }

func (a *Adapter) SetRecvCB(cb driver.RecvCB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recvCB = cb
}

func (a *Adapter) SetSendCB(cb driver.SendCB) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendCB = cb
}

// Send transmits data to dst as an 802.11 action frame, retransmitting up
// to cfg.Retransmits times while waiting for a link-layer ACK.
func (a *Adapter) Send(dst spspaddr.Addr, data []byte) error {
	if len(data) > maxActionPayload {
		return fmt.Errorf("rawinject: payload too large (%d bytes)", len(data))
	}

	frame := buildActionFrame(a.local, dst, data)

	a.txMu.Lock()
	defer a.txMu.Unlock()

	var delivered bool
	for attempt := 0; attempt <= a.cfg.Retransmits; attempt++ {
		a.ackMu.Lock()
		ch := make(chan struct{})
		a.ackCh = ch
		a.ackMu.Unlock()

		if _, err := unix.Write(a.fd, frame); err != nil {
			a.ackMu.Lock()
			a.ackCh = nil
			a.ackMu.Unlock()
			return fmt.Errorf("rawinject: write: %w", err)
		}

		select {
		case <-ch:
			delivered = true
		case <-time.After(a.cfg.AckTimeout):
		}

		a.ackMu.Lock()
		a.ackCh = nil
		a.ackMu.Unlock()

		if delivered {
			break
		}
	}

	a.mu.Lock()
	cb := a.sendCB
	a.mu.Unlock()
	if cb != nil {
		go cb(dst, delivered)
	}
	return nil
}

// buildActionFrame wraps payload in a minimal radiotap header (no
// optional present fields) followed by an 802.11 action frame addressed
// to dst.
func buildActionFrame(local, dst spspaddr.Addr, payload []byte) []byte {
	buf := make([]byte, radiotapMinLen+actionHeaderLen+len(payload))

	// Radiotap: version=0, pad=0, len, present=0.
	buf[0] = 0
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], radiotapMinLen)
	binary.LittleEndian.PutUint32(buf[4:8], 0)

	action := buf[radiotapMinLen:]
	action[0] = frameCtrlAction
	action[1] = 0 // frame control high byte
	action[2] = 0
	action[3] = 0 // duration
	// addr1 = destination, addr2 = source, addr3 = BSSID (none; broadcast)
	copy(action[4:10], dst[:])
	copy(action[10:16], local[:])
	copy(action[16:22], spspaddr.Broadcast[:])
	action[22] = 0 // sequence control
	action[23] = 0
	action[24] = 127 // category: vendor-specific
	copy(action[actionHeaderLen:], payload)

	return buf
}

// RadiotapParsed holds the subset of radiotap fields this adapter reads
// from a captured frame.
type RadiotapParsed struct {
	Len  int
	RSSI int
}

// parseRadiotap walks the present-bitmask chain of a captured radiotap
// header to find its true length and, if present, the antenna-signal
// (RSSI) field. It never panics on truncated input.
func parseRadiotap(data []byte) (RadiotapParsed, bool) {
	if len(data) < 8 {
		return RadiotapParsed{}, false
	}
	total := int(binary.LittleEndian.Uint16(data[2:4]))
	if total > len(data) {
		return RadiotapParsed{}, false
	}

	present := binary.LittleEndian.Uint32(data[4:8])
	off := 8
	for present&(1<<31) != 0 {
		if off+4 > len(data) {
			return RadiotapParsed{}, false
		}
		present = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}

	// Present-flag bit layout per the radiotap spec (subset used here):
	// bit0=TSFT(8), bit1=Flags(1), bit2=Rate(1), bit3=Channel(4), bit4=FHSS(2), bit5=AntSignal(1).
	basePresent := binary.LittleEndian.Uint32(data[4:8])
	rssi := 0
	if basePresent&(1<<0) != 0 {
		off += 8
	}
	if basePresent&(1<<1) != 0 {
		off += 1
	}
	if basePresent&(1<<2) != 0 {
		off += 1
	}
	if basePresent&(1<<3) != 0 {
		off += 4
	}
	if basePresent&(1<<4) != 0 {
		off += 2
	}
	if basePresent&(1<<5) != 0 {
		if off < len(data) {
			rssi = int(int8(data[off]))
		}
		off += 1
	}

	return RadiotapParsed{Len: total, RSSI: rssi}, true
}

func (a *Adapter) captureLoop() {
	defer a.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-a.closeCh:
			return
		default:
		}

		n, _, err := unix.Recvfrom(a.fd, buf, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case <-a.closeCh:
				return
			default:
				continue
			}
		}
		a.handleFrame(buf[:n])
	}
}

func (a *Adapter) handleFrame(data []byte) {
	rt, ok := parseRadiotap(data)
	if !ok || rt.Len >= len(data) {
		return
	}
	frame := data[rt.Len:]
	if len(frame) < 1 {
		return
	}

	switch frame[0] & 0xfc {
	case frameCtrlAction:
		if len(frame) < actionHeaderLen {
			return
		}
		src := spspaddr.Addr{}
		copy(src[:], frame[10:16])
		payload := append([]byte(nil), frame[actionHeaderLen:]...)

		a.mu.Lock()
		cb := a.recvCB
		a.mu.Unlock()
		if cb != nil {
			// Detach onto a fresh goroutine: the caller may issue new
			// sends from within cb, which would otherwise deadlock
			// against this capture loop holding the socket read path.
			go cb(src, payload, rt.RSSI)
		}
	case frameCtrlAck:
		a.ackMu.Lock()
		ch := a.ackCh
		a.ackMu.Unlock()
		if ch != nil {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}
}

// Close stops the capture loop and releases the socket.
func (a *Adapter) Close() error {
	close(a.closeCh)
	err := unix.Close(a.fd)
	a.wg.Wait()
	return err
}

func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | (v >> 8)
}
