package master

import (
	"errors"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"
)

// Key commands accepted from a foreground terminal.
const (
	keyCtrlC     = 0x03
	keyCtrlJ     = '\n'
	keyCtrlK     = 0x0b
	keyCtrlQ     = 0x11
	keyCtrlR     = 0x12
	keyCtrlSlash = 0x1c
	keyReturn    = '\r'
	keyBackspace = 0x7f
)

func keySignal(b byte) (os.Signal, bool) {
	switch b {
	case keyCtrlR:
		return syscall.SIGHUP, true
	case keyCtrlC:
		return syscall.SIGINT, true
	case keyCtrlJ:
		return syscall.SIGTTOU, true
	case keyCtrlK:
		return syscall.SIGTTIN, true
	case keyCtrlQ, keyCtrlSlash:
		return syscall.SIGQUIT, true
	}
	return nil, false
}

func echoKey(b byte) []byte {
	switch b {
	case keyReturn:
		return []byte("\r\n")
	case keyBackspace:
		return []byte("\x1b[1D")
	}
	return []byte{b}
}

// startKeyboard puts the terminal in raw mode and turns control keys into
// signals for the loop. The returned func restores the terminal.
func (m *Master) startKeyboard(f *os.File) (restore func(), err error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal")
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	if m.opts.SetRaw != nil {
		m.opts.SetRaw(true)
	}

	go m.readKeys(f)

	return func() {
		_ = term.Restore(fd, old)
		if m.opts.SetRaw != nil {
			m.opts.SetRaw(false)
		}
	}, nil
}

func (m *Master) readKeys(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if sig, ok := keySignal(b); ok {
				m.post(signalMsg{sig: sig})
				continue
			}
			_, _ = m.opts.Echo.Write(echoKey(b))
		}
		if err != nil {
			return
		}
	}
}
