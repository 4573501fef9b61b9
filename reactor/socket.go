//go:build linux || darwin

package reactor

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/tickloom/tlerrors"
)

// listenTCP4 creates a non-blocking, listening IPv4 TCP socket bound to
// addr ("host:port"). IPv6 is out of scope for this illustrative reactor.
func listenTCP4(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, tlerrors.NewTransportError(addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, tlerrors.NewTransportError(addr, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}
	return fd, nil
}

// dialTCP4 creates a non-blocking outbound IPv4 TCP socket and begins
// connecting to addr; connect completion is observed via EventWrite
// readiness, not by this call returning success.
func dialTCP4(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, tlerrors.NewTransportError(addr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, tlerrors.NewTransportError(addr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}
	applySocketOptions(fd)

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, tlerrors.NewTransportError(addr, err)
	}
	return fd, nil
}

// acceptOne accepts a single pending connection on listenFD, if any,
// setting it non-blocking with TCP_NODELAY/SO_KEEPALIVE applied. Returns
// (-1, nil) if nothing was pending (EAGAIN).
func acceptOne(listenFD int) (int, error) {
	fd, _, err := unix.Accept(listenFD)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, nil
		}
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	applySocketOptions(fd)
	return fd, nil
}

// applySocketOptions sets TCP_NODELAY and SO_KEEPALIVE, the two socket
// options every connection in this reactor carries regardless of
// direction (§5 Resource lifecycle).
func applySocketOptions(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

// fdReader adapts a raw, non-blocking socket fd to io.Reader so
// frame.StreamReader can drive it. EAGAIN is translated to (0, nil),
// which StreamReader.ReadOnce reports as StatusProgress rather than an
// error when no frame is ready.
type fdReader struct{ fd int }

func (r fdReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// fdWrite writes to a non-blocking socket fd, translating EAGAIN to
// (0, nil) so callers treat it as "try again once writable" rather than
// an error.
func fdWrite(fd int, b []byte) (int, error) {
	n, err := unix.Write(fd, b)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// closeFD closes fd, discarding any error; callers are already on a
// cleanup path by the time this is invoked.
func closeFD(fd int) {
	_ = unix.Close(fd)
}

// connectError checks whether a non-blocking connect completed
// successfully once its fd reports writable.
func connectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
