package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/memsim/machine"
	"github.com/sarchlab/memsim/mem"
)

// OpKind is the kind of a trace record.
type OpKind byte

// Trace record kinds.
const (
	OpRead  OpKind = 'r'
	OpWrite OpKind = 'w'
	OpFetch OpKind = 'f'
	OpSync  OpKind = 's'
)

// Access is one trace record.
type Access struct {
	Line  int
	Kind  OpKind
	Ctl   mem.AccessControl
	Addr  mem.Address
	Value uint64
}

// parseTrace reads records of the form
//
//	r <ctl> <addr>
//	w <ctl> <addr> <value>
//	f <ctl> <addr>
//	s
//
// Blank lines and text after '#' are ignored.
func parseTrace(r io.Reader) ([]Access, error) {
	var accesses []Access

	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		a, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", n, err)
		}
		a.Line = n
		accesses = append(accesses, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return accesses, nil
}

func parseRecord(fields []string) (Access, error) {
	if len(fields[0]) != 1 {
		return Access{}, fmt.Errorf("unknown operation %q", fields[0])
	}

	a := Access{Kind: OpKind(fields[0][0])}
	want := 3
	switch a.Kind {
	case OpRead, OpFetch:
	case OpWrite:
		want = 4
	case OpSync:
		want = 1
	default:
		return Access{}, fmt.Errorf("unknown operation %q", fields[0])
	}
	if len(fields) != want {
		return Access{}, fmt.Errorf("%q expects %d fields, got %d", fields[0], want, len(fields))
	}
	if a.Kind == OpSync {
		return a, nil
	}

	var err error
	if a.Ctl, err = mem.ParseAccessControl(fields[1]); err != nil {
		return Access{}, err
	}
	if a.Addr, err = mem.ParseAddress(fields[2]); err != nil {
		return Access{}, err
	}
	if a.Kind == OpWrite {
		if a.Value, err = strconv.ParseUint(fields[3], 0, 64); err != nil {
			return Access{}, fmt.Errorf("invalid value %q: %w", fields[3], err)
		}
	}
	return a, nil
}

// replay issues the accesses against the machine ports. Read values are
// echoed to out when it is not nil.
func replay(m *machine.Machine, accesses []Access, out io.Writer) error {
	for _, a := range accesses {
		switch a.Kind {
		case OpSync:
			m.Sync()
		case OpWrite:
			if _, err := m.DataPort().WriteCtl(a.Ctl, a.Addr, a.Value); err != nil {
				return fmt.Errorf("trace line %d: %w", a.Line, err)
			}
		case OpRead, OpFetch:
			port := m.DataPort()
			if a.Kind == OpFetch {
				port = m.ProgramPort()
			}
			v, err := port.ReadCtl(a.Ctl, a.Addr, false)
			if err != nil {
				return fmt.Errorf("trace line %d: %w", a.Line, err)
			}
			if out != nil {
				fmt.Fprintf(out, "%c %s %s = 0x%x\n", a.Kind, a.Ctl, a.Addr, v)
			}
		}
	}
	return nil
}
