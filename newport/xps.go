// Package newport provides drivers for Newport motion controllers.
//
// The only controller in the beamline is an XPS carrying the pump-probe
// delay stage and the range-extending compensation stage.
package newport

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/uedlab/gued/comm"
	"github.com/uedlab/gued/util"
)

// xpsPort is the TCP port the XPS driver listens on
const xpsPort = "5001"

// endOfAPI terminates every XPS response
const endOfAPI = "EndOfAPI"

// transactTimeout bounds one command round trip.  Moves return immediately
// (completion is polled separately), so this never races a long motion.
const transactTimeout = 10 * time.Second

var (
	// XPSErrorCodes maps XPS error integers to strings
	XPSErrorCodes = map[int]string{
		0: "SUCCESS",

		-115: "HARDWARE FUNCTION NOT SUPPORTED",
		-113: "BOTH ENDS OF RUNS ACTIVATED",
		-112: "EXCITATION SIGNAL INITIALIZATION",
		-111: "GATHERING BUFFER FULL",
		-110: "NOT ALLOWED FOR GANTRY",
		-109: "NEED TO BE HOMED AT LEAST ONCE",
		-108: "SOCKET CLOSED BY ADMIN",
		-107: "NEED ADMINISTRATOR RIGHTS",
		-106: "WRONG USERNAME OR PASSWORD",
		-105: "SCALING CALIBRATION",
		-104: "PID TUNING INITIALIZATION",
		-103: "SIGNAL POINTS NOT ENOUGH",
		-102: "RELAY FEEDBACK TEST SIGNAL NOISY",
		-101: "RELAY FEEDBACK TEST NO OSCILLATION",
		-100: "INTERNAL ERROR",
		-99:  "FATAL EXTERNAL MODULE LOAD",
		-98:  "OPTIONAL EXTERNAL MODULE UNLOAD",
		-97:  "OPTIONAL EXTERNAL MODULE LOAD",
		-96:  "OPTIONAL EXTERNAL MODULE KILL",
		-95:  "OPTIONAL EXTERNAL MODULE EXECUTE",
		-94:  "OPTIONAL EXTERNAL MODULE FILE",

		-85: "HOME SEARCH GANTRY TOLERANCE ERROR",
		-83: "EVENT ID UNDEFINED",
		-82: "EVENT BUFFER FULL",
		-81: "ACTIONS NOT CONFIGURED",
		-80: "EVENTS NOT CONFIGURED",

		-75: "TRAJ TIME",
		-74: "READ FILE PARAMETER KEY",
		-73: "END OF FILE",
		-72: "TRAJ INIITALIZATION",
		-71: "MSG QUEUE",
		-70: "TRAJ FINAL VELOCITY",
		-69: "TRAJ ACC LIMIT",
		-68: "TRAJ VEL LIMIT",
		// no -67
		-66: "TRAJ EMPTY",
		-65: "TRAJ ELEM LINE",
		-64: "TRAJ ELEM SWEEP",
		-63: "TRAJ ELEM RADIUS",
		-62: "TRAJ ELEM TYPE",
		-61: "READ FILE",
		-60: "WRITE FILE",

		-51: "SPIN OUT OF RANGE",
		-50: "MOTOR INITIALIZATION ERROR",
		-49: "GROUP HOME SEARCH ZM ERROR",
		-48: "BASE VELOCITY",
		-47: "WRONG TCL TASKNAME",
		-46: "NOT ALLOWED BACKLASH",
		-45: "END OF RUN",
		-44: "SLAVE",
		-43: "GATHERING RUNNING",
		-42: "JOB OUT OF RANGE",
		-41: "SLAVE CONFIGURATION",
		-40: "MNEMO EVENT",
		-39: "NMEMO ACTION",
		-38: "TCL INTERPRETOR",
		-37: "TCL SCRIPT KILL",
		-36: "UNKNOWN TCL FILE",
		-35: "TRAVEL LIMITS",
		// no -34
		-33: "GROUP MOTION DONE TIMEOUT",
		-32: "GATHERING NOT CONFIGURED",
		-31: "HOME OUT OF RANGE",
		-30: "GATHERING NOT STARTED",
		-29: "MNEMOTYPEGATHERING",
		-28: "GROUP HOME SEARCH TIMEOUT",
		-27: "GROUP ABORT MOTION",
		-26: "EMERGENCY SIGNAL",
		-25: "FOLLOWING ERROR",
		-24: "UNCOMPATIBLE",
		-23: "POSITION COMPARE NOT SET",
		-22: "NOT ALLOWED ACTION",
		-21: "IN INITIALIZATION",
		-20: "FATAL INIT",
		-19: "GROUP NAME",
		-18: "POSITIONER NAME",
		-17: "PARAMETER OUT OF RANGE",
		-16: "WRONG TYPE UNSIGNEDINT",
		-15: "WRONG TYPE INT",
		-14: "WRONG TYPE DOUBLE",
		-13: "WRONG TYPE CHAR",
		-12: "WRONG TYPE BOOL",
		-11: "WRONG TYPE BIT WORD",
		-10: "WRONG TYPE",
		-9:  "WRONG PARAMETER NUMBER",
		-8:  "WRONG OBJECT TYPE",
		-7:  "WRONG FORMAT",
		// no -6
		-5: "POSITIONER ERROR",
		-4: "UNKNOWN COMMAND",
		-3: "STRING TOO LONG",
		-2: "TCP TIMEOUT",
		-1: "BUSY SOCKET",
		1:  "TCL INTERPRETOR ERROR",
	}
)

// XPSErr is a fancy Error() wrapper around error codes
type XPSErr int

// Error implements the error interface
func (e XPSErr) Error() string {
	if s, ok := XPSErrorCodes[int(e)]; ok {
		return fmt.Sprintf("xps: %d - %s", int(e), s)
	}
	return fmt.Sprintf("xps: %d - UNKNOWN ERROR CODE", int(e))
}

// XPSError converts an error code to something that implements the error interface
func XPSError(code int) error {
	if code == 0 {
		return nil
	}
	return XPSErr(code)
}

// popError pulls the error code off of a raw response and returns the code
// and the remaining return values with the EndOfAPI marker stripped
func popError(resp string) (int, string, error) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimSuffix(resp, endOfAPI)
	resp = strings.TrimSuffix(strings.TrimSpace(resp), ",")
	code := resp
	body := ""
	if idx := strings.Index(resp, ","); idx != -1 {
		code = resp[:idx]
		body = resp[idx+1:]
	}
	c, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return 0, "", fmt.Errorf("xps: malformed response %q", resp)
	}
	return c, strings.TrimSpace(body), nil
}

/*XPS represents an XPS series motion controller.

While newport markets the XPS as a more versatile and consistent
(vis-a-vis communication) product than the older ESP line, this is not really
true in the author of this package's opinion.  For example, there is no
function that returns the number of positioners in a group, yet to move a
positioner it must belong to a group, and when you get the position of the
group you must supply the number of positioners to query for.  A best
practice emerges to simply put each positioner in its own group, which is how
the beamline's stages are configured.
*/
type XPS struct {
	*comm.RemoteDevice
}

// NewXPS makes a new XPS instance.  The default XPS port is appended to addr
// if it carries none.
func NewXPS(addr string) *XPS {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, xpsPort)
	}
	rd := comm.NewRemoteDevice(addr, false, nil)
	return &XPS{RemoteDevice: &rd}
}

// transact sends one API call to the controller and returns its return
// values.  The connection is held open between calls; the XPS keeps sockets
// alive and punishes connection thrashing with -1 BUSY SOCKET errors.
func (xps *XPS) transact(cmd string) (string, error) {
	if xps.Conn == nil {
		if err := xps.Open(); err != nil {
			return "", err
		}
	}
	// the dial deadline is long expired on a held-open socket, refresh it
	if nc, ok := xps.Conn.(net.Conn); ok {
		nc.SetDeadline(time.Now().Add(transactTimeout))
	}
	if _, err := xps.Conn.Write([]byte(cmd)); err != nil {
		xps.Close()
		return "", err
	}
	raw, err := xps.readReply()
	if err != nil {
		// a failed read means the socket is suspect; drop it so the next
		// call redials instead of writing into a dead connection
		xps.Close()
		return "", err
	}
	code, body, err := popError(raw)
	if err != nil {
		return "", err
	}
	return body, XPSError(code)
}

// readReply accumulates from the connection until the EndOfAPI marker arrives
func (xps *XPS) readReply() (string, error) {
	var (
		buf   bytes.Buffer
		chunk = make([]byte, 256)
	)
	for {
		n, err := xps.Conn.Read(chunk)
		buf.Write(chunk[:n])
		if bytes.Contains(buf.Bytes(), []byte(endOfAPI)) {
			return buf.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
}

// GroupMoveAbsolute moves a group to an absolute position and returns
// without waiting for the move to complete
func (xps *XPS) GroupMoveAbsolute(gid string, pos []float64) error {
	cmd := fmt.Sprintf("GroupMoveAbsolute(%s,%s)", gid, util.Float64SliceToCSV(pos, 'G', 9))
	_, err := xps.transact(cmd)
	return err
}

// GroupPositionCurrentGet gets the current absolute position of a group.
// nbElements is the number of positioners in the group; the groups on this
// beamline each hold exactly one.
func (xps *XPS) GroupPositionCurrentGet(gid string, nbElements int) ([]float64, error) {
	cmd := fmt.Sprintf("GroupPositionCurrentGet(%s,%s)", gid, placeholders("double *", nbElements))
	body, err := xps.transact(cmd)
	if err != nil {
		return nil, err
	}
	pieces := strings.Split(body, ",")
	if len(pieces) < nbElements {
		return nil, fmt.Errorf("xps: expected %d positions, got %q", nbElements, body)
	}
	out := make([]float64, nbElements)
	for i := 0; i < nbElements; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(pieces[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("xps: malformed position %q", pieces[i])
		}
		out[i] = v
	}
	return out, nil
}

// GroupMotionStatusGet queries the motion status of a group; zero means
// every positioner in the group is at rest
func (xps *XPS) GroupMotionStatusGet(gid string, nbElements int) (int, error) {
	cmd := fmt.Sprintf("GroupMotionStatusGet(%s,%s)", gid, placeholders("int *", nbElements))
	body, err := xps.transact(cmd)
	if err != nil {
		return 0, err
	}
	status := 0
	for _, piece := range strings.SplitN(body, ",", nbElements) {
		v, err := strconv.Atoi(strings.TrimSpace(piece))
		if err != nil {
			return 0, fmt.Errorf("xps: malformed motion status %q", body)
		}
		status |= v
	}
	return status, nil
}

func placeholders(kind string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = kind
	}
	return strings.Join(parts, ",")
}
