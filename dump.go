package mealplanner

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

// Dump writes a deep debug view of v to stdout, prefixed with the caller's location.
func Dump(v ...any) {
	_, file, line, _ := runtime.Caller(1)
	fdump(os.Stdout, fmt.Sprintf("%s:%d:", file, line), v...)
}

// Fdump is Dump with an explicit writer and without the caller prefix.
func Fdump(w io.Writer, v ...any) {
	dumpConfig.Fdump(w, v...)
}

func fdump(w io.Writer, prefix string, v ...any) {
	fmt.Fprintln(w, prefix)
	dumpConfig.Fdump(w, v...)
}
