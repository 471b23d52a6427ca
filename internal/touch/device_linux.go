//go:build linux

package touch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// eviocgabs is EVIOCGABS(abs): _IOR('E', 0x40 + abs, struct input_absinfo).
func eviocgabs(abs uint) uint {
	const (
		iocRead  = 2
		sizeBits = 14
		typeBits = 8
		nrBits   = 8
	)
	size := uint(unsafe.Sizeof(absInfo{}))
	return iocRead<<(nrBits+typeBits+sizeBits) | size<<(nrBits+typeBits) | uint('E')<<nrBits | (0x40 + abs)
}

func queryAxis(fd int, codes ...uint) (AxisRange, error) {
	var lastErr error
	for _, code := range codes {
		var info absInfo
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(eviocgabs(code)), uintptr(unsafe.Pointer(&info)))
		if errno != 0 {
			lastErr = errno
			continue
		}
		if info.Maximum > info.Minimum {
			return AxisRange{Min: info.Minimum, Max: info.Maximum}, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("empty axis range")
	}
	return AxisRange{}, lastErr
}

// Device is an opened evdev touchscreen.
type Device struct {
	f      *os.File
	tr     *Translator
	logger *slog.Logger
}

// Open opens the touchscreen at path and reads its axis ranges.
func Open(path string, logger *slog.Logger) (*Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open touch device: %w", err)
	}
	fd := int(f.Fd())

	x, err := queryAxis(fd, absMTPositionX, absX)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("query x axis of %s: %w", path, err)
	}
	y, err := queryAxis(fd, absMTPositionY, absY)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("query y axis of %s: %w", path, err)
	}

	logger.Info("touch device opened", "path", path, "x_min", x.Min, "x_max", x.Max, "y_min", y.Min, "y_max", y.Max)
	return &Device{f: f, tr: NewTranslator(x, y), logger: logger}, nil
}

// Close releases the device.
func (d *Device) Close() error { return d.f.Close() }

// Run waits for input with epoll and sends gestures to out until ctx is
// canceled or the device fails.
func (d *Device) Run(ctx context.Context, out chan<- Gesture) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fd := int(d.f.Fd())
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}

	// Wake up periodically to notice cancellation.
	const waitMS = 250
	const batch = 64
	epollEvents := make([]unix.EpollEvent, 1)
	buf := make([]byte, EventSize*batch)

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := unix.EpollWait(epfd, epollEvents, waitMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}
		if epollEvents[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("device error/hangup: %s", d.f.Name())
		}

		// evdev only returns whole events.
		m, err := d.f.Read(buf)
		if err != nil {
			return fmt.Errorf("read from %s: %w", d.f.Name(), err)
		}
		for off := 0; off+EventSize <= m; off += EventSize {
			ev, err := ParseEvent(buf[off : off+EventSize])
			if err != nil {
				continue
			}
			g, ok := d.tr.Feed(ev)
			if !ok {
				continue
			}
			select {
			case out <- g:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
