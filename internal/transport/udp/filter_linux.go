//go:build linux

package udp

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/rlimit"
	"golang.org/x/sys/unix"

	"infuse/internal/epacket"
)

// AttachFilter installs an eBPF socket filter that drops datagrams
// whose first payload byte is not the ePacket wire version, so
// unrelated traffic aimed at the port never wakes the read loop:
// lift the memlock rlimit, build the program, attach, keep the
// handle for Close.
//
// The filter sees the skb with data at the UDP header, so the first
// payload byte is at offset 8.
func (c *Conn) AttachFilter() error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("udp: remove memlock rlimit: %w", err)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type:    ebpf.SocketFilter,
		License: "Dual MIT/GPL",
		Instructions: asm.Instructions{
			// R6 must hold the skb for the legacy absolute load.
			asm.Mov.Reg(asm.R6, asm.R1),
			// R0 = first payload byte (past the 8-byte UDP header).
			asm.LoadAbs(udpHeaderLen, asm.Byte),
			asm.JNE.Imm(asm.R0, int32(epacket.WireVersion), "drop"),
			// Accept: pass the whole datagram through.
			asm.Mov.Imm(asm.R0, 0xffff),
			asm.Return(),
			asm.Mov.Imm(asm.R0, 0).WithSymbol("drop"),
			asm.Return(),
		},
	})
	if err != nil {
		return fmt.Errorf("udp: load filter program: %w", err)
	}

	raw, err := c.conn.SyscallConn()
	if err != nil {
		prog.Close()
		return fmt.Errorf("udp: raw socket access: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ATTACH_BPF, prog.FD())
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		prog.Close()
		return fmt.Errorf("udp: attach filter: %w", err)
	}
	c.filter = prog
	return nil
}

const udpHeaderLen = 8
