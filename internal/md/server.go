package md

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/udisondev/otpgo/internal/protocol"
)

// Server accepts message director peers over TCP.
type Server struct {
	director *Director
	addr     string
	log      *slog.Logger
}

// NewServer wires a listener address to the director.
func NewServer(director *Director, addr string, log *slog.Logger) *Server {
	return &Server{
		director: director,
		addr:     addr,
		log:      log.With("component", "md"),
	}
}

// Run listens for peers until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("md listen %s: %w", s.addr, err)
	}
	s.log.Info("message director listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("md accept: %w", err)
		}
		go s.servePeer(conn)
	}
}

func (s *Server) servePeer(conn net.Conn) {
	peer := newPeer(conn)
	s.log.Info("peer connected", "addr", peer.RemoteAddr())
	defer func() {
		conn.Close()
		s.director.dropPeer(peer)
		s.log.Info("peer disconnected", "addr", peer.RemoteAddr())
	}()

	for {
		raw, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("peer read failed", "addr", peer.RemoteAddr(), "error", err)
			}
			return
		}
		if err := s.director.dispatchRaw(peer, raw); err != nil {
			s.log.Warn("bad peer message", "addr", peer.RemoteAddr(), "error", err)
		}
	}
}
