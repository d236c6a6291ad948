package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/memsim/machine"
	"github.com/sarchlab/memsim/mem"
	"github.com/sarchlab/memsim/timing/cache"
)

// DumpRange is a memory window written to a file after the run.
type DumpRange struct {
	Start mem.Address
	Len   uint64
	Path  string
}

// parseDumpRange parses "start,len,path".
func parseDumpRange(s string) (DumpRange, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return DumpRange{}, fmt.Errorf("dump range %q is not start,len,path", s)
	}

	start, err := mem.ParseAddress(parts[0])
	if err != nil {
		return DumpRange{}, err
	}
	n, err := strconv.ParseUint(parts[1], 0, 64)
	if err != nil {
		return DumpRange{}, fmt.Errorf("invalid dump length %q: %w", parts[1], err)
	}
	return DumpRange{Start: start, Len: n, Path: parts[2]}, nil
}

// dumpRanges is a repeatable -dump-range flag.
type dumpRanges []DumpRange

func (d *dumpRanges) String() string {
	parts := make([]string, len(*d))
	for i, r := range *d {
		parts[i] = fmt.Sprintf("%s,%d,%s", r.Start, r.Len, r.Path)
	}
	return strings.Join(parts, " ")
}

func (d *dumpRanges) Set(s string) error {
	r, err := parseDumpRange(s)
	if err != nil {
		return err
	}
	*d = append(*d, r)
	return nil
}

// writeDump writes one hex word per line, read without side effects.
func writeDump(w io.Writer, port mem.Accessor, r DumpRange) error {
	start := r.Start.And(^uint64(3))
	end := r.Start.Add(r.Len)
	if end.Less(start) {
		end = mem.NewAddress(0xffffffff)
	}

	bw := bufio.NewWriter(w)
	for addr := start; addr.Less(end); addr = addr.Add(4) {
		if _, err := fmt.Fprintf(bw, "0x%08x\n", port.ReadU32(addr, true)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func dumpToFile(port mem.Accessor, r DumpRange) error {
	f, err := os.Create(r.Path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	if err := writeDump(f, port, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write dump file: %w", err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// reportCaches prints the statistics of both caches.
func reportCaches(w io.Writer, m *machine.Machine) {
	fmt.Fprintln(w, "Cache statistics report:")
	reportCache(w, "i-cache", m.ICache(), false)
	reportCache(w, "d-cache", m.DCache(), true)
}

func reportCache(w io.Writer, name string, c *cache.Cache, writes bool) {
	fmt.Fprintf(w, "%s:reads:%d\n", name, c.ReadCount())
	if writes {
		fmt.Fprintf(w, "%s:writes:%d\n", name, c.WriteCount())
	}
	fmt.Fprintf(w, "%s:hit:%d\n", name, c.HitCount())
	fmt.Fprintf(w, "%s:miss:%d\n", name, c.MissCount())
	fmt.Fprintf(w, "%s:hit-rate:%s\n", name, formatFloat(c.HitRate()))
	fmt.Fprintf(w, "%s:stalled-cycles:%d\n", name, c.StallCycles())
	fmt.Fprintf(w, "%s:improved-speed:%s\n", name, formatFloat(c.SpeedImprovement()))
}

// reportMMU prints the access count of every mapped range.
func reportMMU(w io.Writer, m *machine.Machine) {
	fmt.Fprintln(w, "MMU report:")
	for _, r := range m.MMU().Ranges() {
		fmt.Fprintf(w, "range:%s-%s:accesses:%d\n", r.Start, r.Last, r.Accesses)
	}
	fmt.Fprintf(w, "unmapped:%d\n", m.MMU().UnmappedAccesses())
}
