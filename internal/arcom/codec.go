package arcom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrValueRange 数值超出类型范围
	ErrValueRange = errors.New("arcom: value out of range")
	// ErrLengthMismatch 数据长度与声明不一致
	ErrLengthMismatch = errors.New("arcom: length mismatch")
	// ErrNegativeCount 读取数量为负
	ErrNegativeCount = errors.New("arcom: negative count")
	// ErrTooLarge 读写字节数超出上限
	ErrTooLarge = errors.New("arcom: transfer too large")
)

// RangeError 描述越界的具体元素
type RangeError struct {
	Segment int
	Index   int
	Tag     TypeTag
	Value   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("arcom: segment %d index %d: value %d out of %s range [%d, %d]",
		e.Segment, e.Index, e.Value, e.Tag, e.Tag.Min(), e.Tag.Max())
}

// Unwrap 支持 errors.Is(err, ErrValueRange)
func (e *RangeError) Unwrap() error {
	return ErrValueRange
}

// EncodedLen 编码后的总字节数
func EncodedLen(segs ...Segment) int {
	n := 0
	for _, s := range segs {
		n += s.Len()
	}
	return n
}

// WantLen 读取声明对应的总字节数
func WantLen(wants ...Want) int {
	n := 0
	for _, w := range wants {
		n += w.Len()
	}
	return n
}

// Validate 检查标签与取值范围，不产生输出
func Validate(segs ...Segment) error {
	for i, s := range segs {
		if !s.Tag.Valid() {
			return fmt.Errorf("%w: segment %d: %q", ErrUnknownTypeTag, i, s.Tag)
		}
		lo, hi := s.Tag.Min(), s.Tag.Max()
		for j, v := range s.Values {
			if v < lo || v > hi {
				return &RangeError{Segment: i, Index: j, Tag: s.Tag, Value: v}
			}
		}
	}
	return nil
}

// Encode 按调用顺序把各段编码为定宽小端序字节
func Encode(segs ...Segment) ([]byte, error) {
	return AppendEncode(make([]byte, 0, EncodedLen(segs...)), segs...)
}

// AppendEncode 将编码结果追加到 dst；出错时 dst 保持原样
func AppendEncode(dst []byte, segs ...Segment) ([]byte, error) {
	if err := Validate(segs...); err != nil {
		return dst, err
	}
	for _, s := range segs {
		for _, v := range s.Values {
			switch s.Tag.Width() {
			case 1:
				dst = append(dst, byte(v))
			case 2:
				dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
			case 4:
				dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
			}
		}
	}
	return dst, nil
}

// ValidateWants 检查读取声明，总字节数不得溢出 int
func ValidateWants(wants ...Want) error {
	total := 0
	for i, w := range wants {
		if !w.Tag.Valid() {
			return fmt.Errorf("%w: read %d: %q", ErrUnknownTypeTag, i, w.Tag)
		}
		if w.Count < 0 {
			return fmt.Errorf("%w: read %d: %d", ErrNegativeCount, i, w.Count)
		}
		if w.Count > (math.MaxInt-total)/w.Tag.Width() {
			return fmt.Errorf("%w: read %d: %d x %s", ErrTooLarge, i, w.Count, w.Tag)
		}
		total += w.Len()
	}
	return nil
}

// CheckLimit 检查 n 字节是否超出上限，limit <= 0 表示不限制
func CheckLimit(n, limit int) error {
	if limit > 0 && n > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, n, limit)
	}
	return nil
}

// Decode 按声明顺序把 data 解码为每段一个数值序列，data 长度必须与声明完全一致
func Decode(data []byte, wants ...Want) ([][]int64, error) {
	if err := ValidateWants(wants...); err != nil {
		return nil, err
	}
	if need := WantLen(wants...); len(data) != need {
		return nil, fmt.Errorf("%w: have %d bytes, want %d", ErrLengthMismatch, len(data), need)
	}

	out := make([][]int64, len(wants))
	off := 0
	for i, w := range wants {
		values := make([]int64, w.Count)
		for j := range values {
			values[j] = decodeOne(w.Tag, data[off:])
			off += w.Tag.Width()
		}
		out[i] = values
	}
	return out, nil
}

func decodeOne(tag TypeTag, b []byte) int64 {
	switch tag {
	case TagInt8:
		return int64(int8(b[0]))
	case TagInt16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case TagInt32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case TagUint16:
		return int64(binary.LittleEndian.Uint16(b))
	case TagUint32:
		return int64(binary.LittleEndian.Uint32(b))
	default:
		return int64(b[0])
	}
}
