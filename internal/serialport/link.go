package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/parkgate/internal/parkgate/service"
)

var (
	ErrNotConnected     = errors.New("serial: not connected")
	ErrAlreadyConnected = errors.New("serial: already connected")
	ErrNoPortName       = errors.New("serial: port name is required")
)

// Port is the part of a serial port the link uses.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the named port. Reads on the returned port must time out
// (returning 0, nil) so the reader can be stopped.
type Opener func(name string, baud int, readTimeout time.Duration) (Port, error)

// OpenSerial opens a real device, 8N1.
func OpenSerial(name string, baud int, readTimeout time.Duration) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Ports lists the serial devices present on this machine.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Observer is told when the link comes up or goes down. The writer passed
// on connect is the egress channel to the reader device.
type Observer interface {
	TransportConnected(w io.Writer)
	TransportDisconnected()
}

type Config struct {
	Baud         int
	ReadTimeout  time.Duration
	RetryBackoff time.Duration

	// Opener defaults to OpenSerial.
	Opener Opener
}

type Status struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
}

// Link owns at most one open port and the reader goroutine feeding it into
// a LineHandler.
type Link struct {
	cfg       Config
	handler   service.LineHandler
	observers []Observer
	logger    *zap.Logger

	mu     sync.Mutex
	name   string
	port   Port
	reader *service.Reader
}

func NewLink(handler service.LineHandler, cfg Config, logger *zap.Logger, observers ...Observer) *Link {
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Link{cfg: cfg, handler: handler, observers: observers, logger: logger}
}

// Connect opens the named port and starts reading from it. The reader is
// bound to ctx as well as to Disconnect.
func (l *Link) Connect(ctx context.Context, name string) error {
	if name == "" {
		return ErrNoPortName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return fmt.Errorf("%w to %s", ErrAlreadyConnected, l.name)
	}

	port, err := l.cfg.Opener(name, l.cfg.Baud, l.cfg.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	reader := service.NewReader(port, l.handler, service.ReaderConfig{RetryBackoff: l.cfg.RetryBackoff},
		l.logger.With(zap.String("port", name)))
	l.name, l.port, l.reader = name, port, reader

	for _, o := range l.observers {
		o.TransportConnected(port)
	}
	reader.Start(ctx)
	go l.watch(reader)

	l.logger.Info("serial connected", zap.String("port", name), zap.Int("baud", l.cfg.Baud))
	return nil
}

// Disconnect stops the reader, waits for it to exit and only then closes
// the port.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrNotConnected
	}
	return l.teardownLocked()
}

func (l *Link) teardownLocked() error {
	l.reader.Stop()
	for _, o := range l.observers {
		o.TransportDisconnected()
	}
	err := l.port.Close()

	name := l.name
	l.name, l.port, l.reader = "", nil, nil

	if err != nil {
		l.logger.Warn("serial close failed", zap.String("port", name), zap.Error(err))
		return fmt.Errorf("close %s: %w", name, err)
	}
	l.logger.Info("serial disconnected", zap.String("port", name))
	return nil
}

// watch tears the link down when the reader ends on its own (device gone,
// stream closed, ctx cancelled).
func (l *Link) watch(r *service.Reader) {
	<-r.Done()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader != r {
		return
	}
	_ = l.teardownLocked()
}

func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Connected: l.port != nil, Port: l.name}
}
