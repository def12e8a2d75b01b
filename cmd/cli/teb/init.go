// Package teb formats the CLI's colored status lines and small tables,
// adapted from the teacher's own output-formatting package.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package teb

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var Writer io.Writer

var (
	fred, fcyan, fgreen func(format string, a ...any) string
)

// Init binds Writer and selects the color/plain formatter set; noColor
// is taken as given from the caller (the CLI passes its --no-color flag).
func Init(w io.Writer, noColor bool) {
	Writer = w
	if noColor {
		fred, fcyan, fgreen = fmt.Sprintf, fmt.Sprintf, fmt.Sprintf
	} else {
		fred = color.New(color.FgHiRed).Sprintf
		fcyan = color.New(color.FgHiCyan).Sprintf
		fgreen = color.New(color.FgHiGreen).Sprintf
	}
}

// Accepted renders a scan_queue_response's accepted=true outcome.
func Accepted(rid string) string {
	return fgreen("accepted") + fmt.Sprintf(" rid=%s", rid)
}

// Rejected renders a scan_queue_response's accepted=false outcome along
// with the scan class's doc string, per §4.8's rejection message.
func Rejected(rid, reason string) string {
	return fred("rejected") + fmt.Sprintf(" rid=%s: %s", rid, reason)
}

// Alarm renders one alarm line, coloring by severity: MAJOR in red,
// MINOR in cyan, WARNING unstyled.
func Alarm(severity, alarmType, source string) string {
	switch severity {
	case "MAJOR":
		return fred("[MAJOR] %s on %s", alarmType, source)
	case "MINOR":
		return fcyan("[MINOR] %s on %s", alarmType, source)
	default:
		return fmt.Sprintf("[%s] %s on %s", severity, alarmType, source)
	}
}

// Println writes one formatted line to Writer.
func Println(line string) {
	fmt.Fprintln(Writer, line)
}
