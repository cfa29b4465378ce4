package server

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vrui-vr/nck/internal/sim"
)

// AdminCommand is one operator command recognised by RunAdminLoop (spec
// §7's supplemented host commands: set_update_rate, load_file,
// save_file), grounded on the original NCKServer.cpp's stdin command loop
// and shaped like x-cells' cmd/bot operator flags.
type AdminCommand struct {
	Name string
	Help string
	Run  func(s *Server, args []string) error
}

// AdminCommands is the fixed dispatch table RunAdminLoop consults.
var AdminCommands = []AdminCommand{
	{
		Name: "set_update_rate",
		Help: "set_update_rate <hz> — change the broadcast rate",
		Run: func(s *Server, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: set_update_rate <hz>")
			}
			hz, err := strconv.Atoi(args[0])
			if err != nil || hz <= 0 {
				return fmt.Errorf("invalid rate %q", args[0])
			}
			s.broadcastRate = time.Second / time.Duration(hz)
			return nil
		},
	},
	{
		Name: "save_file",
		Help: "save_file <path> — save the current simulation state to a local file",
		Run: func(s *Server, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: save_file <path>")
			}
			return s.saveToFile(args[0])
		},
	},
	{
		Name: "load_file",
		Help: "load_file <path> — replace the simulation state from a local file",
		Run: func(s *Server, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: load_file <path>")
			}
			return s.loadFromFile(args[0])
		},
	},
}

// RunAdminLoop reads whitespace-separated commands from r (typically
// os.Stdin) until EOF, dispatching each line to AdminCommands. Intended
// to run in its own goroutine from cmd/nckserver's main.
func (s *Server) RunAdminLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name, args := fields[0], fields[1:]

		found := false
		for _, cmd := range AdminCommands {
			if cmd.Name != name {
				continue
			}
			found = true
			if err := cmd.Run(s, args); err != nil {
				s.log.Error().Err(err).Str("command", name).Msg("admin command failed")
			}
			break
		}
		if !found {
			s.log.Warn().Str("command", name).Msg("unknown admin command")
		}
	}
}

// saveToFile writes the current simulation state directly to a local
// file, bypassing the client-facing bulk-stream path (this is an operator
// command run on the server host, not a client request).
func (s *Server) saveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	done := make(chan error, 1)
	s.engine.Queue().Push(sim.Request{
		Kind:     sim.RequestSaveState,
		SaveSink: f,
		Done:     func(err error) { done <- err },
	})
	return <-done
}

// loadFromFile replaces the simulation state from a local file and
// notifies every connected client of the new session (boundary scenario
// 5: every outstanding pick id becomes invalid).
func (s *Server) loadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	done := make(chan error, 1)
	s.engine.Queue().Push(sim.Request{
		Kind:       sim.RequestLoadState,
		LoadSource: f,
		SessionID:  s.nextSessionID(),
		Done:       func(err error) { done <- err },
	})
	if err := <-done; err != nil {
		return err
	}
	s.onSessionReloaded()
	return nil
}
