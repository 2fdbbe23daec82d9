package sim

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
)

// Server exposes a Device over a TCP accept loop, one goroutine per
// connection, and periodically broadcasts subscription updates to every
// connected client.
type Server struct {
	device *Device
	addr   string

	// demo mode: jitter numeric fields between pushes
	Randomize bool
	// advertise the endpoint over mDNS
	Advertise bool

	listener net.Listener
	mdnsSrv  *mdns.Server

	mu    sync.Mutex
	conns map[string]net.Conn

	stopOnce sync.Once
	stop     chan struct{}
}

func NewServer(device *Device, addr string) *Server {
	return &Server{
		device: device,
		addr:   addr,
		conns:  make(map[string]net.Conn),
		stop:   make(chan struct{}),
	}
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = listener
	slog.Info("Simulated device listening", "addr", listener.Addr().String())

	if s.Advertise {
		if err := s.advertise(listener.Addr()); err != nil {
			slog.Warn("mDNS advertisement failed", "err", err)
		}
	}

	go s.pushLoop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Accept failed", "err", err)
			continue
		}
		go s.serveConn(conn)
	}
}

// Addr returns the bound listen address once Start has run.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) advertise(addr net.Addr) error {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	host, err := os.Hostname()
	if err != nil {
		host = "livewatch-sim"
	}
	service, err := mdns.NewMDNSService(
		"livewatch-sim-"+uuid.NewString()[:8], "_livewatch._tcp", "", "",
		port, nil, []string{"livewatch simulated device"},
	)
	if err != nil {
		return err
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return err
	}
	s.mdnsSrv = srv
	slog.Info("Advertising over mDNS", "host", host, "port", port)
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	id := uuid.NewString()[:8]
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	slog.Info("Client connected", "id", id, "remote", conn.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		conn.Close()
		slog.Info("Client disconnected", "id", id)
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, out := range s.device.Handle(line) {
			if _, err := conn.Write([]byte(out + "\n")); err != nil {
				slog.Warn("Write failed", "id", id, "err", err)
				return
			}
		}
	}
}

// pushLoop drives the device tick and broadcasts its updates.
func (s *Server) pushLoop() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if s.Randomize {
				s.device.Randomize(rng)
			}
			lines := s.device.Tick(now)
			if len(lines) == 0 {
				continue
			}
			s.broadcast(lines)
		}
	}
}

func (s *Server) broadcast(lines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				slog.Warn("Broadcast write failed", "id", id, "err", err)
				break
			}
		}
	}
}

// Shutdown stops the accept loop, the push loop and every open connection.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.mdnsSrv != nil {
		s.mdnsSrv.Shutdown()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
}
