// Copyright (c) 2020, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"fmt"
	"io"
	"os"
)

// PrintAllProcs causes mpi.Printf to print on all processors -- otherwise just 0
var PrintAllProcs = false

// Stdout is where the print functions write.
var Stdout io.Writer = os.Stdout

// rankPrefix is the prefix of lines printed by all ranks.
func rankPrefix() string {
	return fmt.Sprintf("P%d: ", WorldRank())
}

// Printf does fmt.Printf only on the world root (see also AllPrintf to do all)
// and PrintAllProcs var to override for debugging, and print all
func Printf(fs string, pars ...any) {
	switch {
	case WorldRank() == Root:
		fmt.Fprintf(Stdout, fs, pars...)
	case PrintAllProcs:
		AllPrintf(fs, pars...)
	}
}

// AllPrintf does fmt.Printf on all ranks, with the world rank printed first.
// This is best for debugging communication.
func AllPrintf(fs string, pars ...any) {
	fmt.Fprintf(Stdout, rankPrefix()+fs, pars...)
}

// Println does fmt.Println only on the world root (see also AllPrintln to do all)
// and PrintAllProcs var to override for debugging, and print all
func Println(fs ...any) {
	switch {
	case WorldRank() == Root:
		fmt.Fprintln(Stdout, fs...)
	case PrintAllProcs:
		AllPrintln(fs...)
	}
}

// AllPrintln does fmt.Println on all ranks, with the world rank printed first.
// This is best for debugging communication.
func AllPrintln(fs ...any) {
	fmt.Fprintln(Stdout, append([]any{rankPrefix()}, fs...)...)
}
