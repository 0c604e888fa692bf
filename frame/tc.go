package frame

import (
	"fmt"
	"strconv"

	"github.com/sciglob/em27-enclosure/core"
)

// TCTerminator ends every TC-protocol frame in both directions.
const TCTerminator = '\r'

// tcValueDigits is the fixed width of the hex-encoded 32-bit value field.
const tcValueDigits = 8

// tcSum is the low byte of the arithmetic sum of all characters.
func tcSum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

// EncodeTCCommand formats a temperature-controller command: mnemonic, the
// value as eight upper-case hex digits, two hex checksum digits and the CR
// terminator. Negative values travel as their 32-bit two's complement.
func EncodeTCCommand(mnemonic string, value int32) []byte {
	body := fmt.Sprintf("%s%08X", mnemonic, uint32(value))
	return []byte(fmt.Sprintf("%s%02X%c", body, tcSum(body), TCTerminator))
}

// DecodeTCResponse validates a TC-protocol response frame and returns its
// echoed mnemonic and 32-bit value. The trailing terminator is optional so
// callers may pass either the raw read or a pre-trimmed frame.
func DecodeTCResponse(b []byte) (mnemonic string, value int32, err error) {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == TCTerminator || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	if len(s) < tcValueDigits+2 {
		return "", 0, &core.FramingError{Reason: "tc response too short"}
	}

	body, sumHex := s[:len(s)-2], s[len(s)-2:]
	got, perr := strconv.ParseUint(sumHex, 16, 8)
	if perr != nil {
		return "", 0, &core.FramingError{Reason: "tc checksum field not hex"}
	}
	if want := tcSum(body); want != byte(got) {
		return "", 0, &core.ChecksumError{Want: uint16(want), Got: uint16(got)}
	}

	valHex := body[len(body)-tcValueDigits:]
	raw, perr := strconv.ParseUint(valHex, 16, 32)
	if perr != nil {
		return "", 0, &core.FramingError{Reason: "tc value field not hex"}
	}
	return body[:len(body)-tcValueDigits], int32(uint32(raw)), nil
}
