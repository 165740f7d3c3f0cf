package stamp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codefionn/stamphub/internal/protocol"
)

// The stamper script-fu procedures are provided by the GIMP installation;
// these commands and the two markers are the only coupling points to its
// behavior.
const (
	// promptMarker is the interactive batch prompt emitted when the
	// session is ready for the next command.
	promptMarker = "ts> "
	// stampDoneMarker is the literal the stamp procedure prints once the
	// output file has been written.
	stampDoneMarker = "\"Seal Saved\"\n"
)

// setupCommand binds the stamper environment to the background image and
// the full ordered foreground set. Submitted once per session.
func setupCommand(background string, foregrounds []string) string {
	quoted := make([]string, len(foregrounds))
	for i, path := range foregrounds {
		quoted[i] = strconv.Quote(path)
	}
	return fmt.Sprintf(
		"(define stamper-env (stamper-setup-env %s (list %s) ) )\n",
		strconv.Quote(background),
		strings.Join(quoted, " "),
	)
}

// stampCommand composites one foreground onto the environment's background
// at each offset and writes the result to outputPath.
func stampCommand(foreground string, offsets []protocol.Offset, outputPath string) string {
	rendered := make([]string, len(offsets))
	for i, off := range offsets {
		rendered[i] = fmt.Sprintf("(list %s %s)", coord(off.X), coord(off.Y))
	}
	return fmt.Sprintf(
		"(stamper-stamp stamper-env %s (list %s) %s )\n",
		strconv.Quote(foreground),
		strings.Join(rendered, " "),
		strconv.Quote(outputPath),
	)
}

func teardownCommand() string {
	return "(stamper-teardown-env stamper-env)\n"
}

func quitCommand() string {
	return "(gimp-quit 0)\n"
}

// coord renders a signed integer in script-fu syntax. The batch reader has
// no unary minus literal, so negatives go through a subtraction form.
func coord(v int) string {
	if v < 0 {
		return fmt.Sprintf("(- 0 %d)", -v)
	}
	return strconv.Itoa(v)
}
