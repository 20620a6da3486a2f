package wim

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var (
	WIM_DEBUG *bool
)

func Debug(arg interface{}) {
	spew.Dump(arg)
}

func DebugPrint(fmt_str string, v ...interface{}) {
	if WIM_DEBUG == nil {
		// os.Environ() seems very expensive in Go so we cache
		// it.
		for _, x := range os.Environ() {
			if strings.HasPrefix(x, "WIM_DEBUG=") {
				value := true
				WIM_DEBUG = &value
				break
			}
		}
	}

	if WIM_DEBUG == nil {
		value := false
		WIM_DEBUG = &value
	}

	if *WIM_DEBUG {
		fmt.Printf(fmt_str, v...)
	}
}

// Warnings never abort an operation. They are emitted for recoverable
// oddities: duplicate DOS names, a named root dentry, a Win32 dentry
// with no DOS pair.
var warning_handler = func(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "WARNING: "+format+"\n", args...)
}

// SetWarningHandler redirects warnings, e.g. into a test recorder or a
// capture progress channel. Passing nil silences them.
func SetWarningHandler(cb func(format string, args ...interface{})) {
	if cb == nil {
		cb = func(format string, args ...interface{}) {}
	}
	warning_handler = cb
}

func Warningf(format string, args ...interface{}) {
	warning_handler(format, args...)
}
