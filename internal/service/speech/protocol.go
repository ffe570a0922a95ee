package speech

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎语音 WebSocket 二进制协议。
// 帧结构: 4 字节 header | [sequence] | [event, session id, connect id] | payload size | payload

// ProtocolVersion 协议版本
const ProtocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 消息特定标志
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011 // 最后一包
	WithEvent              MessageFlags = 0b0100
)

func (f MessageFlags) hasSequence() bool {
	s := f & 0b0011
	return s == PositiveSequenceNumber || s == NegativeSequenceNumber
}

func (f MessageFlags) isLast() bool {
	s := f & 0b0011
	return s == LastPacketNoSequence || s == NegativeSequenceNumber
}

func (f MessageFlags) hasEvent() bool { return f&WithEvent == WithEvent }

// EventType 服务端事件类型
type EventType int32

const (
	EventTypeNone               EventType = 0
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// 连接级事件不带 session id
func (e EventType) hasSessionID() bool {
	switch e {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return false
	}
	return true
}

func (e EventType) hasConnectID() bool {
	switch e {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	}
	return false
}

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization     SerializationMethod = 0b0000
	JSONSerialization   SerializationMethod = 0b0001
	CustomSerialization SerializationMethod = 0b1111
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression     CompressionMethod = 0b0000
	GzipCompression   CompressionMethod = 0b0001
	CustomCompression CompressionMethod = 0b1111
)

// Header 消息头，每个字段占 4 bit（Reserved 占 8 bit）
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8 // 以 4 字节为单位
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message 一帧完整消息
type Message struct {
	Header    Header
	Sequence  int32
	EventType EventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

var errUnsupportedVersion = errors.New("unsupported protocol version")

// NewHeader 创建新的消息头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode 编码为 4 字节
func (h Header) Encode() []byte {
	return []byte{
		h.ProtocolVersion<<4 | h.HeaderSize,
		uint8(h.MessageType)<<4 | uint8(h.MessageFlags),
		uint8(h.SerializationMethod)<<4 | uint8(h.CompressionMethod),
		h.Reserved,
	}
}

// DecodeHeader 从 4 字节解码消息头
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	h := Header{
		ProtocolVersion:     data[0] >> 4,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if h.ProtocolVersion != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: %d", errUnsupportedVersion, h.ProtocolVersion)
	}
	return h, nil
}

// EncodeMessage 编码完整消息
func EncodeMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(msg.Header.Encode())

	flags := msg.Header.MessageFlags
	if flags.hasSequence() {
		putUint32(&buf, uint32(msg.Sequence))
	}
	if flags.hasEvent() {
		putUint32(&buf, uint32(msg.EventType))
		if msg.EventType.hasSessionID() {
			putString(&buf, msg.SessionID)
		}
		if msg.EventType.hasConnectID() {
			putString(&buf, msg.ConnectID)
		}
	}
	if msg.Header.MessageType == ErrorMessage {
		putUint32(&buf, msg.ErrorCode)
	}

	putUint32(&buf, uint32(len(msg.Payload)))
	buf.Write(msg.Payload)
	return buf.Bytes(), nil
}

// DecodeMessage 解码完整消息
func DecodeMessage(r io.Reader) (*Message, error) {
	raw := make([]byte, 4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header, err := DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}

	// 扩展 header 内容目前没有用到，直接跳过
	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	msg := &Message{Header: header}
	if header.MessageFlags.hasSequence() {
		seq, err := readUint32(r, "sequence")
		if err != nil {
			return nil, err
		}
		msg.Sequence = int32(seq)
	}

	if header.MessageFlags.hasEvent() {
		event, err := readUint32(r, "event type")
		if err != nil {
			return nil, err
		}
		msg.EventType = EventType(int32(event))
		if msg.EventType.hasSessionID() {
			if msg.SessionID, err = readString(r, "session id"); err != nil {
				return nil, err
			}
		}
		if msg.EventType.hasConnectID() {
			if msg.ConnectID, err = readString(r, "connect id"); err != nil {
				return nil, err
			}
		}
	}

	if header.MessageType == ErrorMessage {
		if msg.ErrorCode, err = readUint32(r, "error code"); err != nil {
			return nil, err
		}
	}

	size, err := readUint32(r, "payload size")
	if err != nil {
		return nil, err
	}
	if size > 0 {
		msg.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", size, err)
		}
	}
	return msg, nil
}

// CreateFullClientRequest 创建完整客户端请求消息
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:  NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		Payload: payload,
	}
}

// CreateAudioOnlyRequest 创建音频请求消息，最后一包的序号取负
func CreateAudioOnlyRequest(audio []byte, sequence int32, isLast bool, compression CompressionMethod) *Message {
	flags := NoSequenceNumber
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		if sequence > 0 {
			sequence = -sequence
		}
	case isLast:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	}

	return &Message{
		Header:   NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence: sequence,
		Payload:  audio,
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	return m.Header.MessageFlags.isLast()
}

// IsErrorMessage 判断是否为错误消息
func (m *Message) IsErrorMessage() bool {
	return m.Header.MessageType == ErrorMessage
}

// DecodedPayload 按 header 声明的压缩方式解压 payload
func (m *Message) DecodedPayload() ([]byte, error) {
	return DecompressPayload(m.Payload, m.Header.CompressionMethod)
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader, field string) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r io.Reader, field string) (string, error) {
	size, err := readUint32(r, field+" size")
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return string(data), nil
}
