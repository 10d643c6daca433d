package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/udisondev/otpgo/internal/protocol"
)

// Event message types on the UDP socket.
const (
	msgServerEvent   uint16 = 1
	msgServerStatus  uint16 = 2
	msgServerStatus2 uint16 = 3
)

const logFilePrefix = "toon_otpserver"

// Server collects game events over UDP datagrams and from in-process
// components, writing pipe-delimited lines to a daily log file.
type Server struct {
	addr string
	dir  string
	log  *slog.Logger

	mu       sync.Mutex
	file     *os.File
	fileDay  string
	buffDesc string
}

// NewServer prepares the log directory; the file is opened on first
// write.
func NewServer(dir, addr string, log *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory %s: %w", dir, err)
	}
	return &Server{
		addr: addr,
		dir:  dir,
		log:  log.With("component", "eventlog"),
	}, nil
}

// Run listens for event datagrams until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.log.Info("event logger listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				s.closeFile()
				return nil
			}
			return fmt.Errorf("reading event datagram: %w", err)
		}
		s.handleDatagram(buf[:n])
	}
}

// WriteLine appends one already-formatted line to the event log. Used
// by in-process components (central logger relay).
func (s *Server) WriteLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(line)
}

func (s *Server) writeLocked(line string) {
	day := time.Now().Format("2006-01-02")
	if s.file == nil || s.fileDay != day {
		s.closeFileLocked()
		path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.log", logFilePrefix, day))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			s.log.Error("could not open event log file", "path", path, "error", err)
			return
		}
		s.file = f
		s.fileDay = day
	}
	if _, err := s.file.WriteString(line); err != nil {
		s.log.Error("could not write event log line", "error", err)
	}
}

func (s *Server) closeFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFileLocked()
}

func (s *Server) closeFileLocked() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
		s.fileDay = ""
	}
}

// handleDatagram decodes one event datagram. Header: declared length,
// message type, server type, channel. Oversized server events arrive
// split; their descriptions are buffered until the final fragment.
func (s *Server) handleDatagram(data []byte) {
	r := protocol.NewReader(data)

	length, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("truncated event datagram")
		return
	}
	messageType, err := r.ReadUint16()
	if err != nil {
		s.log.Warn("truncated event datagram")
		return
	}
	if _, err := r.ReadUint16(); err != nil { // server type, unused
		s.log.Warn("truncated event datagram")
		return
	}
	channel, err := r.ReadUint32()
	if err != nil {
		s.log.Warn("truncated event datagram")
		return
	}
	remaining := len(data)

	switch messageType {
	case msgServerEvent:
		eventType, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed server event", "error", err)
			return
		}
		who, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed server event", "error", err)
			return
		}
		description, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed server event", "error", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if int(length) > remaining {
			// More fragments follow.
			s.buffDesc += description
			return
		}
		if s.buffDesc != "" {
			description = s.buffDesc + description
			s.buffDesc = ""
		}
		s.writeLocked(fmt.Sprintf("%d|%d|%s|%s|%s\n", channel, messageType, eventType, who, description))

	case msgServerStatus, msgServerStatus2:
		who, err := r.ReadString()
		if err != nil {
			s.log.Warn("malformed server status", "error", err)
			return
		}
		if messageType == msgServerStatus2 {
			if _, err := r.ReadUint64(); err != nil { // ping channel, unused
				s.log.Warn("malformed server status", "error", err)
				return
			}
		}
		avatarCount, err := r.ReadUint32()
		if err != nil {
			s.log.Warn("malformed server status", "error", err)
			return
		}
		objectCount, err := r.ReadUint32()
		if err != nil {
			s.log.Warn("malformed server status", "error", err)
			return
		}
		s.WriteLine(fmt.Sprintf("%d|%d|%s|%d|%d\n", channel, messageType, who, avatarCount, objectCount))

	default:
		s.log.Warn("unknown event message type", "messageType", messageType)
	}
}
