// Package main provides the entry point for memsim.
// memsim simulates a 32-bit memory hierarchy with split instruction and
// data caches in front of mapped memory devices.
//
// For the full CLI, use: go run ./cmd/memsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("memsim - cached memory hierarchy simulator")
	fmt.Println("")
	fmt.Println("Usage: memsim [options] -trace <trace.txt>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config      Path to machine configuration JSON file")
	fmt.Println("  -elf         ELF image loaded before the trace")
	fmt.Println("  -echo        Print the value of every traced read")
	fmt.Println("  -dump-range  Dump start,len,path after the run")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/memsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/memsim' instead.")
	}
}
