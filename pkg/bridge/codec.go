package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Header entries ride in the payload map on the wire. They are stripped on
// decode, so a decoded Payload holds exactly what the sender put there.
const (
	headerPrefix  = "_"
	headerID      = "_id"
	headerReplyTo = "_reply_to"
	headerTime    = "_ts"
)

var (
	ErrUnknownKind   = errors.New("unknown message kind")
	ErrTruncated     = errors.New("truncated frame")
	ErrTrailingBytes = errors.New("trailing bytes after frame")
	ErrStringTooLong = errors.New("string exceeds 65535 bytes")
	ErrInvalidUTF8   = errors.New("string is not valid UTF-8")
	ErrReservedKey   = errors.New("payload key uses reserved prefix")
)

// Encode serializes m as
//
//	[1 byte kind][uint32 BE count][count x (uint16 BE len, key, uint16 BE len, value)]
//
// Entries are written in key order so equal messages encode identically.
func Encode(m Message) ([]byte, error) {
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(m.Kind))
	}

	entries := make(map[string]string, len(m.Payload)+3)
	for k, v := range m.Payload {
		if strings.HasPrefix(k, headerPrefix) {
			return nil, fmt.Errorf("%w: %q", ErrReservedKey, k)
		}
		entries[k] = v
	}
	if m.ID != uuid.Nil {
		entries[headerID] = m.ID.String()
	}
	if m.ReplyTo.Valid {
		entries[headerReplyTo] = m.ReplyTo.UUID.String()
	}
	if !m.Time.IsZero() {
		entries[headerTime] = strconv.FormatInt(m.Time.UnixMilli(), 10)
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(keys)))
	for _, k := range keys {
		if err := writeString(&buf, k); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		if err := writeString(&buf, entries[k]); err != nil {
			return nil, fmt.Errorf("value of %q: %w", k, err)
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a frame produced by Encode. PlayerID is not on the wire;
// the transport fills it in from the connection.
func Decode(data []byte) (Message, error) {
	r := reader{data: data}

	kb, err := r.byte()
	if err != nil {
		return Message{}, err
	}
	kind := Kind(kb)
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, kb)
	}

	count, err := r.uint32()
	if err != nil {
		return Message{}, err
	}
	// Each entry takes at least two length prefixes.
	if uint64(count)*4 > uint64(r.remaining()) {
		return Message{}, fmt.Errorf("%w: %d entries declared, %d bytes left", ErrTruncated, count, r.remaining())
	}

	m := Message{Kind: kind, Payload: make(map[string]string, count)}
	for i := uint32(0); i < count; i++ {
		k, err := r.string()
		if err != nil {
			return Message{}, err
		}
		v, err := r.string()
		if err != nil {
			return Message{}, err
		}
		switch k {
		case headerID:
			if m.ID, err = uuid.Parse(v); err != nil {
				return Message{}, fmt.Errorf("message id: %w", err)
			}
		case headerReplyTo:
			id, err := uuid.Parse(v)
			if err != nil {
				return Message{}, fmt.Errorf("reply-to id: %w", err)
			}
			m.ReplyTo = uuid.NullUUID{UUID: id, Valid: true}
		case headerTime:
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Message{}, fmt.Errorf("timestamp: %w", err)
			}
			m.Time = time.UnixMilli(ms).UTC()
		default:
			m.Payload[k] = v
		}
	}

	if r.remaining() > 0 {
		return Message{}, fmt.Errorf("%w: %d", ErrTrailingBytes, r.remaining())
	}
	return m, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
	return nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) next(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) string() (string, error) {
	lb, err := r.next(2)
	if err != nil {
		return "", err
	}
	b, err := r.next(int(binary.BigEndian.Uint16(lb)))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
