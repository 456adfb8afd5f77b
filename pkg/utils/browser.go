package utils

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser opens a URL or local file (e.g. a rendered report) with the
// desktop's default handler.
func OpenBrowser(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", target)
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return fmt.Errorf("opening files is not supported on %s", runtime.GOOS)
	}
	return cmd.Start()
}
