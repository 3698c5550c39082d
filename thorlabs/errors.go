package thorlabs

import (
	"fmt"
	"strconv"
	"strings"
)

// TLError is a formatible error code from a TL4000 series driver
type TLError struct {
	Code int

	// Text is the message sent by the device, if any
	Text string
}

// Error satisfies stdlib error interface
func (e TLError) Error() string {
	if s, ok := TLErrors[e.Code]; ok {
		return fmt.Sprintf("%d - %s", e.Code, s)
	}
	if e.Text != "" {
		return fmt.Sprintf("%d - %s", e.Code, e.Text)
	}
	return fmt.Sprintf("%d - UNKNOWN ERROR CODE", e.Code)
}

// parseError converts a SYSTem:ERRor? reply of the form
// <code>,"<text>" into a TLError
func parseError(s string) error {
	s = strings.TrimSpace(s)
	code, text := s, ""
	if idx := strings.IndexByte(s, ','); idx != -1 {
		code, text = s[:idx], strings.Trim(s[idx+1:], `"`)
	}
	c, err := strconv.Atoi(strings.TrimPrefix(code, "+"))
	if err != nil {
		return fmt.Errorf("unparseable device error %q", s)
	}
	if c == 0 {
		return nil
	}
	return TLError{Code: c, Text: text}
}

var (
	// TLErrors maps TL4000 series error codes to strings
	TLErrors = map[int]string{
		-100: "COMMAND ERROR",
		-101: "INVALID CHARACTER",
		-102: "SYNTAX ERROR",
		-103: "INVALID SEPARATOR",
		-104: "DATA TYPE ERROR",
		-105: "GROUP EXECUTE TRIGGER NOT ALLOWED",
		//106, 107 skipped
		-108: "PARAMETER NOT ALLOWED",
		-109: "MISSING PARAMETER",
		-110: "COMMAND HEADER ERROR",
		-113: "UNDEFINED HEADER (UNKNOWN COMMAND)",
		-115: "UNEXPECTED NUMBER OF PARAMETERS",
		-120: "NUMERIC DATA ERROR",
		-130: "SUFFIX ERROR",
		-131: "INVALID SUFFIX",
		-151: "INVALID STRING DATA",

		-220: "PARAMETER ERROR",
		-221: "SETTINGS CONFLICT",
		-222: "DATA OUT OF RANGE",
		-230: "DATA CORRUPT OR STALE",
		-231: "DATA QUESTIONABLE",
		-240: "HARDWARE ERROR",
		-241: "HARDWARE MISSING",
		-250: "MASS STORAGE ERROR",
		-251: "MISSING MASS STORAGE",
		-252: "MISSING MEDIA",
		-253: "CORRUPT MEDIA",
		-254: "MEDIA FULL",
		-255: "DIRECTORY FULL",
		-256: "FILE NAME NOT FOUND",
		-257: "FILE NAME ERROR",
		-258: "MEDIA PROTECTED",

		-310: "SYSTEM ERROR",
		-311: "MEMORY ERROR",
		-313: "CALIBRATION MEMORY LOST",
		-314: "SAVE/RECALL MEMORY LOST",
		-315: "CONFIGURATION MEMORY LOST",
		-321: "OUT OF MEMORY",
		-330: "SELF-TEST FAILED",
		-340: "CALIBRATION FAILURE",
		-350: "QUEUE OVERFLOW",
		-363: "INPUT BUFFER OVERRUN",

		-400: "QUERY ERROR",
		-410: "QUERY INTERRUPTED",

		3:  "INSTRUMENT IS OVERHEATED",
		20: "NOT PERMITTED WITH LD OUTPUT ON",
		22: "INTERLOCK CIRCUIT IS OPEN",
		23: "KEY SWITCH IN LOCKED POSITION",
		24: "LD OPEN CIRCUIT DETECTED",
		25: "LD-ENABLE INPUT IS DE-ASSERTED",
		26: "LD TEMPERATURE PROTECTION IS ACTIVE",
		27: "NOT PERMITTED WITH PHOTODIODE BIAS ON",
		28: "NOT PERMITTED WITH QCW MODE ON",
		30: "NOT PERMITTED WITH TEC OUTPUT ON",
		31: "WRONG TEC SOURCE OPERATING MODE",
		32: "PID AUTO-TUNE IS CURRENTLY RUNNING",
		33: "PID AUTO-TUNE VALUE ERROR",
		34: "TEC OPEN CIRCUIT DETECTED",
		35: "TEMPERATURE SENSOR FAILURE",
		36: "TEC CABLE CONNECTION FAILURE",
	}
)
