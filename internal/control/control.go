// Package control exposes the running instance on a unix socket. A client
// sends one command byte and a newline and reads one reply line.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-live/internal/session"
)

const ProtoVer = "0.1"

const (
	CmdToggle  byte = 't'
	CmdStatus  byte = 's'
	CmdVersion byte = 'v'
	CmdQuit    byte = 'q'
)

// Controller is the session surface the socket drives.
type Controller interface {
	Toggle(ctx context.Context) (bool, error)
	Status() session.Status
}

type Server struct {
	socket string
	ctl    Controller
	quit   func()
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewServer returns a server for socket. quit is called after a quit
// command has been acknowledged.
func NewServer(socket string, ctl Controller, quit func(), logger *slog.Logger) *Server {
	return &Server{
		socket: socket,
		ctl:    ctl,
		quit:   quit,
		logger: logger.With(slog.String("component", "control")),
	}
}

// Listen creates the socket directory and replaces a stale socket left by
// an earlier run.
func Listen(socket string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socket), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if conn, err := net.DialTimeout("unix", socket, 200*time.Millisecond); err == nil {
		conn.Close()
		return nil, fmt.Errorf("another instance is listening on %s", socket)
	}
	_ = os.Remove(socket)
	return net.Listen("unix", socket)
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := Listen(s.socket)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	s.logger.Info("control socket listening", slog.String("socket", s.socket))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(s.socket)

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, c)
		}()
	}
}

func (s *Server) handle(ctx context.Context, c net.Conn) {
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		s.logger.Debug("client read error", slog.String("error", err.Error()))
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 || line[0] == '\n' {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case CmdToggle:
		running, err := s.ctl.Toggle(ctx)
		if err != nil {
			fmt.Fprintf(c, "ERR %s\n", oneLine(err.Error()))
			return
		}
		if running {
			fmt.Fprint(c, "OK started\n")
		} else {
			fmt.Fprint(c, "OK stopped\n")
		}
	case CmdStatus:
		fmt.Fprintf(c, "STATUS %s\n", FormatStatus(s.ctl.Status()))
	case CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s\n", ProtoVer)
	case CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		if s.quit != nil {
			s.quit()
		}
	default:
		s.logger.Warn("unknown command", slog.String("command", string(cmd)))
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

// FormatStatus renders st as space separated key=value pairs.
func FormatStatus(st session.Status) string {
	parts := []string{"status=" + st.State.String()}
	if st.SessionID != "" {
		parts = append(parts,
			"session="+st.SessionID,
			fmt.Sprintf("device=%q", st.Device),
			fmt.Sprintf("source=%q", st.SourceLanguage),
			fmt.Sprintf("target=%q", st.TargetLanguage),
			fmt.Sprintf("delivered=%d", st.Delivered),
			"since="+st.StartedAt.Format(time.RFC3339))
	}
	if st.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%q", oneLine(st.Error)))
	}
	return strings.Join(parts, " ")
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// SendCommand sends cmd to the instance behind socket and returns its
// reply without the trailing newline.
func SendCommand(socket string, cmd byte) (string, error) {
	c, err := net.DialTimeout("unix", socket, 2*time.Second)
	if err != nil {
		return "", fmt.Errorf("dial control socket: %w", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := c.Write([]byte{cmd, '\n'}); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	resp, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return strings.TrimSuffix(resp, "\n"), nil
}
