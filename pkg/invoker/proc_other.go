//go:build !unix

package invoker

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
