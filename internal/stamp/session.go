package stamp

import (
	"bufio"
	"bytes"
	"io"

	"github.com/codefionn/stamphub/internal/logger"
)

// session wraps the compositing process pipes with the line-anchored
// handshake protocol: commands go in as text, and progress is observed by
// scanning stdout byte-by-byte for literal markers.
type session struct {
	stdin io.Writer
	out   *bufio.Reader
	line  []byte
}

func newSession(stdin io.Writer, stdout io.Reader) *session {
	return &session{
		stdin: stdin,
		out:   bufio.NewReader(stdout),
	}
}

// submit writes one command to the process and echoes it for diagnostics.
func (s *session) submit(command string) error {
	logger.Debug("gimp< %s", command)
	_, err := io.WriteString(s.stdin, command)
	return err
}

// waitFor blocks until the accumulated output line ends with marker.
// Completed lines that do not match are echoed at debug level and
// discarded. The line buffer starts fresh on every call; any mid-line
// residue left by a previous marker (the prompt has no trailing newline)
// is dropped.
func (s *session) waitFor(marker string) error {
	m := []byte(marker)
	s.line = s.line[:0]
	for {
		b, err := s.out.ReadByte()
		if err != nil {
			return err
		}
		s.line = append(s.line, b)

		if len(s.line) >= len(m) && bytes.HasSuffix(s.line, m) {
			logger.Debug("gimp> %s", string(s.line))
			if b == '\n' {
				s.line = s.line[:0]
			}
			return nil
		}
		if b == '\n' {
			logger.Debug("gimp> %s", string(s.line))
			s.line = s.line[:0]
		}
	}
}
