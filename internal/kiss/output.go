package kiss

import (
	"fmt"

	"github.com/gookit/color"
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

// color-compatible printer interface (works with *color.Theme and *color.Style)
type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

// cPrintln prints a line with the given style or falls back to fmt.Println when nil
func cPrintln(p colorPrinter, a ...any) {
	if p == nil {
		fmt.Println(a...)
		return
	}
	p.Println(a...)
}

// logf prints a standard "-> " prefixed progress line. When a package is in
// context its name leads the message so multi-package runs stay diagnosable.
func logf(pkg, format string, a ...any) {
	colArrow.Print("-> ")
	if pkg != "" {
		colSuccess.Printf("%s ", pkg)
	}
	fmt.Printf(format, a...)
	fmt.Println()
}

// warnf prints a non-fatal warning line.
func warnf(pkg, format string, a ...any) {
	colArrow.Print("-> ")
	if pkg != "" {
		colWarn.Printf("%s ", pkg)
	}
	cPrintf(colWarn, format, a...)
	fmt.Println()
}
