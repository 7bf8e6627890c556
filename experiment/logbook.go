package experiment

import (
	"os"
	"time"
)

// TimestampFormat is the timestamp layout of experiment log lines
const TimestampFormat = "2006-01-02 15:04:05"

/*Logbook is the append-only experiment log: "<timestamp> | <message>\n" per
entry, never rewritten or rotated.

The file is opened and closed around every write so an abrupt process death
never leaves a dangling handle or a half-flushed buffer; the log is the
authoritative post-mortem record and must survive anything short of the
filesystem itself failing.
*/
type Logbook struct {
	// Path is the location of the log file
	Path string
}

// NewLogbook returns a logbook writing to the given path
func NewLogbook(path string) *Logbook {
	return &Logbook{Path: path}
}

// Start truncates the log and writes its first entry
func (l *Logbook) Start(msg string) error {
	f, err := os.Create(l.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(formatLine(time.Now(), msg))
	return err
}

// Append adds one timestamped entry to the end of the log
func (l *Logbook) Append(msg string) error {
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(formatLine(time.Now(), msg))
	return err
}

func formatLine(t time.Time, msg string) string {
	return t.Format(TimestampFormat) + " | " + msg + "\n"
}
