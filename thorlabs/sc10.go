// Package thorlabs provides drivers for Thorlabs benchtop equipment.
package thorlabs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/uedlab/gued/comm"
)

// ShutterMode enumerates the SC10's operating modes
type ShutterMode int

// operating modes per the SC10 manual, mode=1 through mode=5
const (
	ModeManual ShutterMode = iota + 1
	ModeAuto
	ModeSingle
	ModeRepeat
	ModeExternalGate
)

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

/*SC10 represents an SC10 optical beam shutter controller.

The SC10 speaks a prompt-driven ASCII protocol: every command is echoed back
before the reply, and a "> " prompt trails each exchange.  The prompt has no
terminator of its own, so it shows up as a prefix on the next read and is
stripped there.
*/
type SC10 struct {
	*comm.RemoteDevice
}

// NewSC10 returns an SC10 on the given serial port (e.g. COM27 or /dev/ttyUSB0)
func NewSC10(addr string) *SC10 {
	rd := comm.NewRemoteDevice(addr, true, makeSerConf(addr))
	return &SC10{RemoteDevice: &rd}
}

// transact sends a command, consumes the echo, and returns the value line
// for queries (wantReply) or the empty string for plain commands
func (s *SC10) transact(cmd string, wantReply bool) (string, error) {
	if s.Conn == nil {
		if err := s.Open(); err != nil {
			return "", err
		}
	}
	echo, err := s.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	if got := stripPrompt(string(echo)); got != cmd {
		return "", fmt.Errorf("sc10: echo mismatch, sent %q got %q", cmd, got)
	}
	if !wantReply {
		return "", nil
	}
	val, err := s.Recv()
	if err != nil {
		return "", err
	}
	return stripPrompt(string(val)), nil
}

func stripPrompt(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, ">")
	return strings.TrimSpace(s)
}

// Identity returns the controller's model and firmware string
func (s *SC10) Identity() (string, error) {
	return s.transact("id?", true)
}

// SetOperatingMode sets the controller's operating mode.  The experiment
// drives the shutters in ModeManual.
func (s *SC10) SetOperatingMode(m ShutterMode) error {
	if m < ModeManual || m > ModeExternalGate {
		return fmt.Errorf("sc10: invalid operating mode %d", m)
	}
	_, err := s.transact(fmt.Sprintf("mode=%d", int(m)), false)
	return err
}

// OperatingMode queries the controller's operating mode
func (s *SC10) OperatingMode() (ShutterMode, error) {
	resp, err := s.transact("mode?", true)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(resp)
	if err != nil {
		return 0, fmt.Errorf("sc10: malformed mode reply %q", resp)
	}
	return ShutterMode(m), nil
}

// Enabled queries whether the shutter is enabled (open in manual mode)
func (s *SC10) Enabled() (bool, error) {
	resp, err := s.transact("ens?", true)
	if err != nil {
		return false, err
	}
	return resp == "1", nil
}

// Enable opens or closes the shutter.  The wire command is a toggle, so the
// current state is read first and the toggle only issued on a mismatch,
// making this call idempotent.
func (s *SC10) Enable(on bool) error {
	cur, err := s.Enabled()
	if err != nil {
		return err
	}
	if cur == on {
		return nil
	}
	_, err = s.transact("ens", false)
	return err
}
