//go:build windows

package execute

import "os/exec"

// setupProcessGroup is a no-op on Windows; job objects would be the true
// equivalent but killing the direct process is enough for the tools we run.
func setupProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills the direct process on Windows.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
