/*Package comm provides a transport layer for the lab's remote hardware.

A RemoteDevice wraps either a TCP socket or a serial port behind one
send/receive interface with configurable termination bytes.  Device packages
embed RemoteDevice and write whatever protocol methods they need on top of it:

	type MySensor struct {
		comm.RemoteDevice
	}

	func (ms *MySensor) ReadTemp() (float64, error) {
		err := ms.Open()
		if err != nil {
			return 0, err
		}
		defer ms.Close()
		resp, err := ms.SendRecv([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	terminator = byte('\r')

	// ErrNoSerialConf is generated when a serial RemoteDevice was built
	// without a serial configuration
	ErrNoSerialConf = errors.New("comm: IsSerial is true but no serial config was provided")

	// ErrNotConnected is generated when Conn is nil and Send or Recv is called
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

// Sender has a Send method that passes along a byte slice as well as a
// TxTerminator returning the transmission termination byte
type Sender interface {
	Send([]byte) error
	TxTerminator() byte
}

// Recver has a Recv method that gets a byte slice as well as an
// RxTerminator returning the receipt termination byte
type Recver interface {
	Recv() ([]byte, error)
	RxTerminator() byte
}

// SendRecver can send and receive, and provides a method that sends then receives
type SendRecver interface {
	Sender
	Recver

	SendRecv([]byte) ([]byte, error)
}

// Opener can open ("establish a connection" but in io language)
type Opener interface {
	Open() error
}

// A Communicator can Open, Send, Recv and Close
type Communicator interface {
	io.Closer
	Opener
	SendRecver
}

/*RemoteDevice has an address and implements Communicator.

If IsSerial is true a non-nil serial config must be supplied at construction
time.  The device is used by exactly one logical thread of control in this
codebase, so no internal locking is done.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser
	reader   *bufio.Reader
	serConf  *serial.Config
}

// NewRemoteDevice creates a new RemoteDevice instance.  serConf may be nil
// for TCP devices.
func NewRemoteDevice(addr string, useSerial bool, serConf *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:     addr,
		IsSerial: useSerial,
		serConf:  serConf}
}

// Open the connection, setting the Conn variable.  Opens are retried with an
// exponential backoff; some of the controllers in the lab drop connections
// when they are thrashed.
func (rd *RemoteDevice) Open() error {
	var hardErr error
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			// timeouts and unreachable hosts do not get better on a
			// 3 second horizon; stop retrying and surface them
			hardErr = err
			return nil
		}
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return err
	}
	if hardErr != nil {
		return fmt.Errorf("comm: opening connection to %s: %w", rd.Addr, hardErr)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.serConf == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serConf)
	} else {
		conn, err = TCPSetup(rd.Addr, 3*time.Second)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.reader = nil
	}
	return err
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return terminator
}

// Send writes data to the remote with the Tx terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	b = append(b, rd.TxTerminator())
	_, err := rd.Conn.Write(b)
	return err
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return terminator
}

// Recv receives data from the remote and strips the Rx terminator.
// The buffered reader lives as long as the connection: devices that reply
// with several terminated lines may have them coalesced into one read by
// the OS, and bytes past the first terminator must survive for the next
// Recv.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.reader == nil {
		rd.reader = bufio.NewReader(rd.Conn)
	}
	term := rd.RxTerminator()
	buf, err := rd.reader.ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
