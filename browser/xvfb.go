package browser

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// xvfbReady bounds how long a fresh Xvfb has to create its socket.
const xvfbReady = 5 * time.Second

// displaySocket maps an X display name such as ":99" or ":99.0" to the
// unix socket Xvfb listens on.
func displaySocket(display string) (string, error) {
	i := strings.LastIndexByte(display, ':')
	if i < 0 {
		return "", fmt.Errorf("browser: display %q: missing ':'", display)
	}
	num := display[i+1:]
	if j := strings.IndexByte(num, '.'); j >= 0 {
		num = num[:j]
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return "", fmt.Errorf("browser: display %q: bad number", display)
	}
	return "/tmp/.X11-unix/X" + strconv.Itoa(n), nil
}

// startXvfb brings up the virtual display headful Chrome renders into.
// A display that already has a live socket is reused as is.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sock); err == nil {
		m.cfg.Logger.Info("browser: reusing display", "display", display)
		return nil
	}

	var stderr bytes.Buffer
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: xvfb: start: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.NewTimer(xvfbReady)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			if err == nil {
				err = errors.New("exited")
			}
			return fmt.Errorf("browser: xvfb %s: %w: %s", display, err, strings.TrimSpace(stderr.String()))
		case <-deadline.C:
			_ = cmd.Process.Kill()
			<-exited
			return fmt.Errorf("browser: xvfb %s: no socket after %s", display, xvfbReady)
		case <-tick.C:
			if _, err := os.Stat(sock); err == nil {
				m.xvfb = cmd
				m.xvfbDone = exited
				m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
				return nil
			}
		}
	}
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	_ = m.xvfb.Process.Kill()
	<-m.xvfbDone
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
	m.xvfbDone = nil
}
