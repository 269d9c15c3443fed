package debugger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// MessageType is the category of a protocol message.
type MessageType string

const (
	TypeInfo   MessageType = "info"
	TypeError  MessageType = "error"
	TypeLog    MessageType = "log"
	TypeResult MessageType = "result"
)

// Info codes.
const (
	InfoReady              = 0
	InfoProgramLoaded      = 1
	InfoBreakpointSet      = 2
	InfoBreakpointHit      = 3
	InfoProgramCompleted   = 4
	InfoProgramPanicked    = 5
	InfoExited             = 6
	InfoBreakpointsCleared = 7
	InfoVMReloaded         = 8
	InfoSnapshotWritten    = 9
	InfoStepped            = 10
)

// Error codes.
const (
	ErrCodeUnknownCommand     = 1
	ErrCodeArgumentLength     = 2
	ErrCodeArgumentType       = 3
	ErrCodeCannotRender       = 4
	ErrCodeFileRead           = 5
	ErrCodeProgramRead        = 6
	ErrCodeDebugParse         = 7
	ErrCodeInvalidState       = 8
	ErrCodeBreakpointNotFound = 9
	ErrCodeNotSuspended       = 10
)

// Message is one line of debugger output. Data carries the structured
// payload of result messages and only appears in JSON output.
type Message struct {
	Type    MessageType `json:"type"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
}

func infof(code int, format string, args ...any) Message {
	return Message{Type: TypeInfo, Code: code, Message: fmt.Sprintf(format, args...)}
}

func errorf(code int, format string, args ...any) Message {
	return Message{Type: TypeError, Code: code, Message: fmt.Sprintf(format, args...)}
}

func logMessage(text string) Message {
	return Message{Type: TypeLog, Code: -1, Message: text}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// ColorMode selects when plain output is colored.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

var typeColors = map[MessageType]string{
	TypeError:  "\x1b[31m",
	TypeInfo:   "\x1b[32m",
	TypeResult: "\x1b[36m",
}

// Output renders messages as JSON lines or plain text.
type Output struct {
	mu    sync.Mutex
	w     io.Writer
	json  bool
	color bool
}

// NewOutput creates an Output writing to w. With ColorAuto, color is used
// only when w is a terminal.
func NewOutput(w io.Writer, jsonOutput bool, mode ColorMode) *Output {
	o := &Output{w: w, json: jsonOutput}
	switch mode {
	case ColorAlways:
		o.color = true
	case ColorAuto, "":
		o.color = isTerminal(w)
	}
	return o
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// JSON reports whether messages are rendered as JSON.
func (o *Output) JSON() bool { return o.json }

// Emit writes one message.
func (o *Output) Emit(m Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.json {
		data, err := json.Marshal(m)
		if err != nil {
			data, _ = json.Marshal(errorf(ErrCodeCannotRender, "cannot render message: %v", err))
		}
		fmt.Fprintln(o.w, string(data))
		return
	}
	fmt.Fprintln(o.w, o.plain(m))
}

func (o *Output) plain(m Message) string {
	if m.Type == TypeLog {
		return m.Message
	}
	prefix := "[" + string(m.Type) + "]"
	if c, ok := typeColors[m.Type]; ok && o.color {
		prefix = c + prefix + "\x1b[0m"
	}
	return prefix + ": " + m.Message
}

// Prompt writes the interactive prompt in plain mode.
func (o *Output) Prompt() {
	if o.json {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.w, "> ")
}

// table lays out rows as aligned columns.
func table(rows [][]string) string {
	if len(rows) == 0 {
		return "(empty)"
	}
	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, c := range r {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	var b strings.Builder
	for n, r := range rows {
		if n > 0 {
			b.WriteByte('\n')
		}
		for i, c := range r {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(r)-1 {
				b.WriteString(c)
			} else {
				fmt.Fprintf(&b, "%-*s", widths[i], c)
			}
		}
	}
	return b.String()
}
