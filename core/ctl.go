package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/encodeous/pimsm/state"
)

// CtlCommand is a single request on the control socket
type CtlCommand struct {
	Verb      string
	Group     netip.Addr
	Source    netip.Addr
	Interface string
	Payload   []byte
}

const ctlUsage = `commands:
  inspect
  watch
  join <group> <interface>
  leave <group> <interface>
  source <source> <group> <interface>
  data <source> <group> [payload]`

func parseGroup(s string) (netip.Addr, error) {
	g, err := netip.ParseAddr(s)
	if err != nil {
		return g, err
	}
	if !g.Is4() || !g.IsMulticast() {
		return g, fmt.Errorf("%s is not an ipv4 multicast group", g)
	}
	return g, nil
}

func ParseCtlCommand(line string) (CtlCommand, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return CtlCommand{}, fmt.Errorf("empty command\n%s", ctlUsage)
	}
	c := CtlCommand{Verb: f[0]}
	var err error
	switch c.Verb {
	case "inspect", "watch":
		if len(f) != 1 {
			return c, fmt.Errorf("%s takes no arguments", c.Verb)
		}
	case "join", "leave":
		if len(f) != 3 {
			return c, fmt.Errorf("usage: %s <group> <interface>", c.Verb)
		}
		if c.Group, err = parseGroup(f[1]); err != nil {
			return c, err
		}
		c.Interface = f[2]
	case "source":
		if len(f) != 4 {
			return c, fmt.Errorf("usage: source <source> <group> <interface>")
		}
		if c.Source, err = netip.ParseAddr(f[1]); err != nil {
			return c, err
		}
		if c.Group, err = parseGroup(f[2]); err != nil {
			return c, err
		}
		c.Interface = f[3]
	case "data":
		if len(f) < 3 {
			return c, fmt.Errorf("usage: data <source> <group> [payload]")
		}
		if c.Source, err = netip.ParseAddr(f[1]); err != nil {
			return c, err
		}
		if c.Group, err = parseGroup(f[2]); err != nil {
			return c, err
		}
		c.Payload = []byte(strings.Join(f[3:], " "))
	default:
		return c, fmt.Errorf("unknown command %q\n%s", c.Verb, ctlUsage)
	}
	return c, nil
}

// Event resolves a membership command into the event it stands for
func (c CtlCommand) Event(ps *state.PimState) (state.Event, error) {
	ifId := state.IfId(0)
	if c.Interface != "" {
		itf := ps.InterfaceByName(c.Interface)
		if itf == nil {
			return nil, fmt.Errorf("unknown interface %s", c.Interface)
		}
		ifId = itf.Id
	}
	switch c.Verb {
	case "join":
		return state.ReceiverAdded{Group: c.Group, IfId: ifId}, nil
	case "leave":
		return state.ReceiverRemoved{Group: c.Group, IfId: ifId}, nil
	case "source":
		return state.NewSourceDetected{Source: c.Source, Group: c.Group, IfId: ifId}, nil
	case "data":
		return state.DataReady{Source: c.Source, Group: c.Group, Payload: c.Payload}, nil
	default:
		return nil, fmt.Errorf("%s is not an event", c.Verb)
	}
}

// CtlServer serves the control socket
type CtlServer struct {
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func (c *CtlServer) Init(s *state.State) error {
	if s.CtlSocket == "" {
		return nil
	}
	if err := os.MkdirAll(path.Dir(s.CtlSocket), 0700); err != nil {
		return err
	}
	if err := os.Remove(s.CtlSocket); err != nil && !os.IsNotExist(err) {
		return err
	}
	ln, err := net.Listen("unix", s.CtlSocket)
	if err != nil {
		return err
	}
	c.listener = ln
	c.conns = make(map[net.Conn]struct{})
	s.Log.Info("control socket listening", "path", s.CtlSocket)
	go c.serve(s)
	return nil
}

func (c *CtlServer) Cleanup(s *state.State) error {
	if c.listener == nil {
		return nil
	}
	err := c.listener.Close()
	c.mu.Lock()
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return err
}

func (c *CtlServer) serve(s *state.State) {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.Log.Warn("failed to accept control connection", "error", err)
			continue
		}
		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.wg.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.wg.Done()
			defer func() {
				c.mu.Lock()
				delete(c.conns, conn)
				c.mu.Unlock()
				_ = conn.Close()
			}()
			if err := HandleCtl(s, bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))); err != nil {
				s.Log.Debug("control connection closed", "error", err)
			}
		}()
	}
}

// HandleCtl serves a single control request. Replies are terminated by a NUL
// byte, except for watch which streams until the connection closes.
func HandleCtl(s *state.State, rw *bufio.ReadWriter) error {
	line, err := rw.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return err
	}
	cmd, err := ParseCtlCommand(line)
	if err != nil {
		return reply(rw, "", err)
	}
	switch cmd.Verb {
	case "watch":
		return watch(s, rw)
	case "inspect":
		res, err := s.DispatchWait(func(s *state.State) (any, error) {
			return RenderRoutes(s.PimState), nil
		})
		str, _ := res.(string)
		return reply(rw, str, err)
	default:
		_, err := s.DispatchWait(func(s *state.State) (any, error) {
			ev, err := cmd.Event(s.PimState)
			if err != nil {
				return nil, err
			}
			err = HandleEvent(s.PimState, Get[*PimRouter](s), ev)
			_ = handled(s, ev.String(), err)
			return nil, err
		})
		return reply(rw, "ok\n", err)
	}
}

func reply(rw *bufio.ReadWriter, res string, err error) error {
	if err != nil {
		res = fmt.Sprintf("error: %s\n", err)
	}
	if _, werr := rw.WriteString(res); werr != nil {
		return werr
	}
	if werr := rw.WriteByte(0); werr != nil {
		return werr
	}
	return rw.Flush()
}

func watch(s *state.State, rw *bufio.ReadWriter) error {
	trace, ok := TryGet[*PimTrace](s)
	if !ok {
		return reply(rw, "", fmt.Errorf("tracing is not enabled"))
	}
	ch := make(chan any, 64)
	trace.Register(ch)
	defer trace.Unregister(ch)
	for {
		select {
		case m := <-ch:
			if _, err := fmt.Fprintln(rw, m); err != nil {
				return err
			}
			if err := rw.Flush(); err != nil {
				return err
			}
		case <-s.Context.Done():
			return nil
		}
	}
}

// CtlRequest sends line to the control socket and copies the reply to out
func CtlRequest(socket, line string, out io.Writer) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err = io.WriteString(conn, strings.TrimSpace(line)+"\n"); err != nil {
		return err
	}
	if strings.TrimSpace(line) == "watch" {
		_, err = io.Copy(out, conn)
		return err
	}
	res, err := bufio.NewReader(conn).ReadString(0)
	if err != nil && err != io.EOF {
		return err
	}
	_, err = io.WriteString(out, strings.TrimSuffix(res, "\x00"))
	return err
}
