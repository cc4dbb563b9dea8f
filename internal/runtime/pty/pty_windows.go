//go:build windows

package pty

import (
	"os/exec"

	"github.com/UserExistsError/conpty"
)

// conPTY wraps a Windows ConPTY handle.
type conPTY struct {
	cpty *conpty.ConPty
}

func (p *conPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *conPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *conPTY) Close() error                { return p.cpty.Close() }

func (p *conPTY) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

// startWithSize starts the command line built from cmd via ConPTY with the
// given dimensions. cmd.Path/cmd.Args are re-flattened with buildCmdLine
// because ConPty.Start takes a single command-line string, not argv.
func startWithSize(cmd *exec.Cmd, cols, rows int) (Handle, error) {
	cmdLine := buildCmdLine(cmd.Args)
	cp, err := conpty.Start(cmdLine,
		conpty.ConPtyDimensions(cols, rows),
		conpty.ConPtyWorkDir(cmd.Dir),
		conpty.ConPtyEnv(cmd.Env),
	)
	if err != nil {
		return nil, err
	}
	return &conPTY{cpty: cp}, nil
}
