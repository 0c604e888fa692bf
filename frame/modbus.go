// Package frame builds and parses the wire frames of the three enclosure
// protocols: Modbus RTU for the motor/rain controller and the AC unit, the
// checksummed ASCII-hex TC protocol for the temperature controller, and the
// delimited ASCII line of the THP probe. The package is pure; all I/O and
// timeout handling lives in transport and the drivers.
package frame

import (
	"encoding/binary"

	"github.com/sigurn/crc16"

	"github.com/sciglob/em27-enclosure/core"
)

// Modbus function codes used by the enclosure devices.
const (
	FnReadHolding  = 0x03
	FnWriteSingle  = 0x06
	ExceptionFlag  = 0x80
	modbusOverhead = 4 // slave + function + CRC16
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC computes the Modbus CRC16 (poly 0xA001 reflected, init 0xFFFF).
func CRC(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// appendCRC appends the CRC16 of b to b, low byte first.
func appendCRC(b []byte) []byte {
	sum := CRC(b)
	return append(b, byte(sum), byte(sum>>8))
}

// EncodeReadRegisters builds a read-holding-registers request.
func EncodeReadRegisters(slave byte, register, count uint16) []byte {
	b := make([]byte, 6, 8)
	b[0] = slave
	b[1] = FnReadHolding
	binary.BigEndian.PutUint16(b[2:4], register)
	binary.BigEndian.PutUint16(b[4:6], count)
	return appendCRC(b)
}

// EncodeWriteRegister builds a write-single-register request. The device
// echoes the same eight bytes back on success.
func EncodeWriteRegister(slave byte, register, value uint16) []byte {
	b := make([]byte, 6, 8)
	b[0] = slave
	b[1] = FnWriteSingle
	binary.BigEndian.PutUint16(b[2:4], register)
	binary.BigEndian.PutUint16(b[4:6], value)
	return appendCRC(b)
}

// Modbus is a decoded RTU frame: address, function and the bytes between
// the function code and the CRC.
type Modbus struct {
	Slave    byte
	Function byte
	Payload  []byte
}

// Register interprets the first payload word (request frames and write
// echoes carry the register address there).
func (m *Modbus) Register() uint16 {
	return binary.BigEndian.Uint16(m.Payload[0:2])
}

// Value interprets the second payload word of a request or write echo.
func (m *Modbus) Value() uint16 {
	return binary.BigEndian.Uint16(m.Payload[2:4])
}

// Exception reports whether the device answered with an exception frame.
func (m *Modbus) Exception() bool {
	return m.Function&ExceptionFlag != 0
}

// DecodeModbus validates the CRC of a complete RTU frame and splits it into
// fields. Truncated input fails with FramingError, a CRC mismatch with
// ChecksumError.
func DecodeModbus(b []byte) (*Modbus, error) {
	if len(b) < modbusOverhead {
		return nil, &core.FramingError{Reason: "modbus frame too short"}
	}
	want := CRC(b[:len(b)-2])
	got := binary.LittleEndian.Uint16(b[len(b)-2:])
	if want != got {
		return nil, &core.ChecksumError{Want: want, Got: got}
	}
	return &Modbus{
		Slave:    b[0],
		Function: b[1],
		Payload:  b[2 : len(b)-2],
	}, nil
}

// ReadValue extracts the single register value from a read-holding-registers
// response (byte count followed by one big-endian word).
func (m *Modbus) ReadValue() (uint16, error) {
	if len(m.Payload) < 3 || m.Payload[0] < 2 {
		return 0, &core.FramingError{Reason: "short read response payload"}
	}
	return binary.BigEndian.Uint16(m.Payload[1:3]), nil
}

// ToSigned reinterprets a 16-bit register as a signed value.
func ToSigned(v uint16) int {
	return int(int16(v))
}
