package hostexec

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const stopGracePeriod = 5 * time.Second

func screenName(vmID string) string { return "fc-console-" + vmID }

// Spawn starts a detached Firecracker process listening on apiSocket,
// wrapped in a `screen` session keyed by vmID so a later console attach
// (ConsoleAttach) can join its PTY instead of only tailing a log file.
// screen itself is set Setsid so the whole session — screen plus the
// Firecracker process it supervises — shares one process group that
// keeps running independently of the Agent; Stop signals that group.
// The PID recorded in the pidfile is screen's, not Firecracker's.
func Spawn(vmID, firecrackerBin, apiSocket string) (int, error) {
	dir := filepath.Dir(apiSocket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create vmm dir %s: %w", dir, err)
	}
	os.Remove(apiSocket) // clear a stale socket from a prior crashed run

	logPath := filepath.Join(dir, "firecracker.log")

	cmd := exec.Command("screen", "-dmS", screenName(vmID), "-L", "-Logfile", logPath,
		firecrackerBin, "--api-sock", apiSocket)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start firecracker under screen: %w", err)
	}
	pid := cmd.Process.Pid

	// Release rather than Wait: the Agent does not parent this process
	// for its whole lifetime, it only launches it.
	if err := cmd.Process.Release(); err != nil {
		return 0, fmt.Errorf("release screen process: %w", err)
	}

	if err := writePidfile(pidfilePath(dir), pid); err != nil {
		return 0, fmt.Errorf("write pidfile: %w", err)
	}
	return pid, nil
}

// Stop signals the process group rooted at the screen session recorded
// for apiSocket's directory, escalating to SIGKILL if it has not exited
// within stopGracePeriod.
func Stop(apiSocket string) error {
	dir := filepath.Dir(apiSocket)
	pid, err := readPidfile(pidfilePath(dir))
	if err != nil {
		return fmt.Errorf("read pidfile: %w", err)
	}
	if pid == 0 {
		return nil // nothing recorded, already stopped
	}

	if err := unix.Kill(-pid, syscall.SIGTERM); err != nil && err != unix.ESRCH {
		return fmt.Errorf("signal pgid %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopGracePeriod)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			os.Remove(pidfilePath(dir))
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := unix.Kill(-pid, syscall.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("force kill pgid %d: %w", pid, err)
	}
	os.Remove(pidfilePath(dir))
	return nil
}

// ConsoleAttach joins the detached screen session Spawn created for vmID,
// returning the PTY master end an HTTP handler can pump bytes through in
// both directions. The caller closes the returned file once the shell
// session ends, which tears down the screen client (not the session
// itself — Firecracker's console keeps running for the next attach).
func ConsoleAttach(vmID string) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command("screen", "-x", screenName(vmID))
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("attach console for %s: %w", vmID, err)
	}
	return f, cmd, nil
}

// PrepareMetricsFifo creates the named pipe Firecracker writes periodic
// metrics snapshots to, if it does not already exist.
func PrepareMetricsFifo(fifoPath string) error {
	if err := os.MkdirAll(filepath.Dir(fifoPath), 0o755); err != nil {
		return fmt.Errorf("create metrics fifo dir: %w", err)
	}
	if err := unix.Mkfifo(fifoPath, 0o666); err != nil && err != unix.EEXIST {
		return fmt.Errorf("mkfifo %s: %w", fifoPath, err)
	}
	return nil
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

func pidfilePath(vmmDir string) string {
	return filepath.Join(vmmDir, "firecracker.pid")
}

func writePidfile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	return pid, nil
}
