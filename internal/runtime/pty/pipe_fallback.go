package pty

import (
	"io"
	"os/exec"
)

// pipeHandle is the no-terminal-emulation fallback used when the native PTY
// library fails to allocate a pseudo-terminal (e.g. no /dev/ptmx available
// in a locked-down container). Output is still captured into the window's
// buffer; agents that require an actual TTY (most interactive TUIs) will
// degrade, which is the documented tradeoff of this fallback path.
type pipeHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *pipeHandle) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *pipeHandle) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeHandle) Close() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

// Resize is a no-op: a plain pipe has no notion of a terminal size.
func (p *pipeHandle) Resize(cols, rows uint16) error { return nil }

// startWithPipes starts cmd with its stdin/stdout wired to pipes instead of
// a PTY, for use when startWithSize fails.
func startWithPipes(cmd *exec.Cmd) (Handle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &pipeHandle{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}
