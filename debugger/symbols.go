package debugger

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Debug symbol table
// ---------------------------------------------------------------------------

// HeaderKind classifies what a debug header describes.
type HeaderKind int

const (
	HeaderVariable HeaderKind = iota
	HeaderSetterCall
	HeaderGetterCall
	HeaderClass
	HeaderParameter
	HeaderFunction
	HeaderNativeFunction
	HeaderCondition
)

var headerKindNames = [...]string{
	"variable", "setter_call", "getter_call", "class",
	"parameter", "function", "native_function", "condition",
}

func (k HeaderKind) String() string {
	if k >= 0 && int(k) < len(headerKindNames) {
		return headerKindNames[k]
	}
	return fmt.Sprintf("HeaderKind(%d)", int(k))
}

// Position is a source range. Lines are zero-based in the file.
type Position struct {
	StartLine int `json:"start_line"`
	StartCol  int `json:"start_col"`
	EndLine   int `json:"end_line"`
	EndCol    int `json:"end_col"`
}

// ModuleMap ties a module name and hash to its source path. Path is empty
// for modules without one.
type ModuleMap struct {
	Name string `json:"name"`
	Hash uint64 `json:"hash"`
	Path string `json:"path,omitempty"`
}

// Header maps a source element to the instruction range generated for it.
type Header struct {
	Kind       HeaderKind `json:"kind"`
	Hash       uint64     `json:"hash"`
	Module     string     `json:"module"`
	ModuleHash uint64     `json:"module_hash"`
	Name       string     `json:"name"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Pos        Position   `json:"pos"`
}

// Symbols is a parsed debug file.
type Symbols struct {
	Modules []ModuleMap
	Headers []Header
}

// SymbolError reports a malformed line in a debug file.
type SymbolError struct {
	Line int
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("Broken debug header, line: %d", e.Line)
}

const (
	moduleSep = "E-E"
	fieldSep  = "F:F"
	mapEnd    = "---"
)

// ParseSymbols parses the text form of a debug file: module map lines of
// the form "name E-E hash F:F path" up to a "---" line, then one header per
// line with eleven F:F separated fields. Blank lines are ignored and
// reported line numbers count from 1.
func ParseSymbols(text string) (*Symbols, error) {
	s := &Symbols{}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	inHeaders := false

	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if !inHeaders {
			if raw == mapEnd {
				inHeaders = true
				continue
			}
			m, ok := parseModuleMap(raw)
			if !ok {
				return nil, &SymbolError{Line: line}
			}
			s.Modules = append(s.Modules, m)
			continue
		}
		h, ok := parseHeader(raw)
		if !ok {
			return nil, &SymbolError{Line: line}
		}
		s.Headers = append(s.Headers, h)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inHeaders {
		return nil, &SymbolError{Line: line}
	}
	return s, nil
}

func parseModuleMap(raw string) (ModuleMap, bool) {
	info, path, ok := strings.Cut(raw, fieldSep)
	if !ok {
		return ModuleMap{}, false
	}
	name, hashText, ok := strings.Cut(info, moduleSep)
	if !ok {
		return ModuleMap{}, false
	}
	hash, err := strconv.ParseUint(strings.TrimSpace(hashText), 10, 64)
	if err != nil {
		return ModuleMap{}, false
	}
	m := ModuleMap{Name: strings.TrimSpace(name), Hash: hash}
	if p := strings.TrimSpace(path); p != "-" {
		m.Path = p
	}
	return m, true
}

func parseHeader(raw string) (Header, bool) {
	f := strings.Split(raw, fieldSep)
	if len(f) != 11 {
		return Header{}, false
	}
	var nums [11]uint64
	for _, i := range []int{0, 1, 3, 5, 6, 7, 8, 9, 10} {
		n, err := strconv.ParseUint(strings.TrimSpace(f[i]), 10, 64)
		if err != nil {
			return Header{}, false
		}
		nums[i] = n
	}
	kind := HeaderKind(nums[10])
	if nums[10] >= uint64(len(headerKindNames)) {
		return Header{}, false
	}
	return Header{
		Kind:       kind,
		Hash:       nums[9],
		Module:     strings.TrimSpace(f[2]),
		ModuleHash: nums[3],
		Name:       strings.TrimSpace(f[4]),
		Start:      int(nums[0]),
		End:        int(nums[1]),
		Pos: Position{
			StartLine: int(nums[5]),
			StartCol:  int(nums[6]),
			EndLine:   int(nums[7]),
			EndCol:    int(nums[8]),
		},
	}, true
}

// ReadSymbolsFile reads and parses a debug file.
func ReadSymbolsFile(path string) (*Symbols, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSymbols(string(data))
}

// Locate finds the first header of module whose source range starts on
// the given one-based line.
func (s *Symbols) Locate(module string, line int) (Header, bool) {
	if s == nil {
		return Header{}, false
	}
	for _, h := range s.Headers {
		if h.Module == module && h.Pos.StartLine == line-1 {
			return h, true
		}
	}
	return Header{}, false
}
