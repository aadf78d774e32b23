package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MBAP Header (7 Bytes) + Function Code + Data
type ModbusFrame struct {
	TransactionID uint16 // 2 Bytes - Request/Response Korrelation
	ProtocolID    uint16 // 2 Bytes - Immer 0x0000 für Modbus
	Length        uint16 // 2 Bytes - Anzahl folgender Bytes
	UnitID        uint8  // 1 Byte - Slave Address
	FunctionCode  uint8  // 1 Byte - Modbus Function
	Data          []byte // Variable Länge
}

const (
	FuncCodeReadHoldingRegisters = 0x03

	// exceptionFlag is OR-ed into the function code of an exception response.
	exceptionFlag = 0x80

	// MaxReadQuantity is the protocol limit for one FC 0x03 request.
	MaxReadQuantity = 125

	mbapHeaderLen = 7
	// MBAP length counts unit id + PDU, PDU is at most 253 bytes
	maxFrameLength = 254
)

// Exception codes
const (
	ExceptionIllegalFunction    uint8 = 0x01
	ExceptionIllegalDataAddress uint8 = 0x02
	ExceptionIllegalDataValue   uint8 = 0x03
	ExceptionServerFailure      uint8 = 0x04
)

// ErrMalformedFrame marks bytes on the wire that do not form a valid frame.
var ErrMalformedFrame = errors.New("malformed modbus frame")

// Encode erstellt das komplette TCP Frame
func (f *ModbusFrame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // +2 für UnitID + FunctionCode

	frame := make([]byte, mbapHeaderLen+1+len(f.Data))

	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// IsException reports whether the frame is an exception response.
func (f *ModbusFrame) IsException() bool {
	return f.FunctionCode&exceptionFlag != 0
}

// DecodeFrame parst ein empfangenes Frame
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < mbapHeaderLen+1 {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrMalformedFrame, len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("%w: invalid protocol ID: 0x%04X", ErrMalformedFrame, frame.ProtocolID)
	}

	if int(frame.Length) != len(data)-6 {
		return nil, fmt.Errorf("%w: length field %d does not match %d bytes", ErrMalformedFrame, frame.Length, len(data)-6)
	}

	if len(data) > 8 {
		frame.Data = append([]byte(nil), data[8:]...)
	}

	return frame, nil
}

// ReadFrame reads exactly one frame from r using the MBAP length field.
func ReadFrame(r io.Reader) (*ModbusFrame, error) {
	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[4:6])
	if length < 2 || length > maxFrameLength {
		return nil, fmt.Errorf("%w: invalid length field %d", ErrMalformedFrame, length)
	}

	buf := make([]byte, mbapHeaderLen+int(length)-1)
	copy(buf, header)
	if _, err := io.ReadFull(r, buf[mbapHeaderLen:]); err != nil {
		return nil, err
	}

	return DecodeFrame(buf)
}

// ReadHoldingRegistersRequest erstellt Request für Function Code 0x03
func ReadHoldingRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &ModbusFrame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  FuncCodeReadHoldingRegisters,
		Data:          data,
	}
}

// ParseReadRequest extracts start address and quantity from an FC 0x03 request.
func (f *ModbusFrame) ParseReadRequest() (start, quantity uint16, err error) {
	if len(f.Data) != 4 {
		return 0, 0, fmt.Errorf("%w: read request has %d data bytes", ErrMalformedFrame, len(f.Data))
	}
	return binary.BigEndian.Uint16(f.Data[0:2]), binary.BigEndian.Uint16(f.Data[2:4]), nil
}

// ReadHoldingRegistersResponse answers req with the given register values.
func ReadHoldingRegistersResponse(req *ModbusFrame, values []uint16) *ModbusFrame {
	data := make([]byte, 1+2*len(values))
	data[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[1+2*i:], v)
	}

	return &ModbusFrame{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode,
		Data:          data,
	}
}

func ExceptionResponse(req *ModbusFrame, code uint8) *ModbusFrame {
	return &ModbusFrame{
		TransactionID: req.TransactionID,
		UnitID:        req.UnitID,
		FunctionCode:  req.FunctionCode | exceptionFlag,
		Data:          []byte{code},
	}
}

// ExceptionCode returns the code carried by an exception response.
func (f *ModbusFrame) ExceptionCode() uint8 {
	if len(f.Data) == 0 {
		return 0
	}
	return f.Data[0]
}

// ParseRegisterResponse parst Holding Register Response, expected is the requested quantity.
func (f *ModbusFrame) ParseRegisterResponse(expected uint16) ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("%w: response too short", ErrMalformedFrame)
	}

	byteCount := int(f.Data[0])
	if byteCount != 2*int(expected) {
		return nil, fmt.Errorf("%w: byte count %d, expected %d", ErrMalformedFrame, byteCount, 2*int(expected))
	}
	if len(f.Data) != byteCount+1 {
		return nil, fmt.Errorf("%w: incomplete response data", ErrMalformedFrame)
	}

	registers := make([]uint16, expected)
	for i := range registers {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
