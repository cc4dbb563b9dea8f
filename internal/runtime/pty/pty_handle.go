package pty

import "io"

// Handle abstracts PTY operations across Unix and Windows, mirroring the
// interface kdlbs-kandev's agentctl process package wraps creack/pty (Unix)
// and ConPTY (Windows) behind, so the rest of this package never branches on
// GOOS.
type Handle interface {
	io.ReadWriteCloser
	// Resize changes the PTY window size.
	Resize(cols, rows uint16) error
}
