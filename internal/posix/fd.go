package posix

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrNoRights is returned by RecvFD when a message arrives without a
// descriptor attached.
var ErrNoRights = errors.New("no descriptor in message")

// Pipe returns a connected read/write pair. Both ends are close-on-exec;
// pass an end to a child through ForkConfig.Files.
func Pipe() (r, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe: %w", err)
	}
	return r, w, nil
}

// Socketpair returns a connected pair of AF_UNIX stream sockets.
func Socketpair() (a, b *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	return os.NewFile(uintptr(fds[0]), "socketpair"), os.NewFile(uintptr(fds[1]), "socketpair"), nil
}

// SendFD passes f over the unix socket conn.
//
// The descriptor of f is read through SyscallConn so the O_NONBLOCK flag of
// the shared file description is left alone. Listening sockets are shared
// with workers that accept in non-blocking mode.
func SendFD(conn, f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return fmt.Errorf("send fd: %w", err)
	}
	var rights []byte
	if err := rc.Control(func(fd uintptr) { rights = unix.UnixRights(int(fd)) }); err != nil {
		return fmt.Errorf("send fd: %w", err)
	}

	cc, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("send fd: %w", err)
	}
	var serr error
	err = cc.Write(func(fd uintptr) bool {
		serr = unix.Sendmsg(int(fd), []byte("fd"), rights, nil, 0)
		return serr != unix.EAGAIN
	})
	if err == nil {
		err = serr
	}
	if err != nil {
		return os.NewSyscallError("sendmsg", err)
	}
	return nil
}

// RecvFD receives one descriptor sent with SendFD. The returned file is
// close-on-exec.
func RecvFD(conn *os.File, name string) (*os.File, error) {
	cc, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("recv fd: %w", err)
	}

	buf := make([]byte, 16)
	oob := make([]byte, unix.CmsgSpace(4))
	var oobn int
	var rerr error
	err = cc.Read(func(fd uintptr) bool {
		_, oobn, _, _, rerr = unix.Recvmsg(int(fd), buf, oob, unix.MSG_CMSG_CLOEXEC)
		return rerr != unix.EAGAIN
	})
	if err == nil {
		err = rerr
	}
	if err != nil {
		return nil, os.NewSyscallError("recvmsg", err)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("recv fd: %w", err)
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil || len(fds) == 0 {
			continue
		}
		for _, extra := range fds[1:] {
			_ = unix.Close(extra)
		}
		return os.NewFile(uintptr(fds[0]), name), nil
	}
	return nil, ErrNoRights
}
