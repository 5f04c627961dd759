package arcom

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// TypeTag 类型标签，决定一段数值在线路上的定宽编码
type TypeTag string

// 支持的类型标签（与固件 ArCOM 库一致，全部小端序）
const (
	TagChar   TypeTag = "char"
	TagUint8  TypeTag = "uint8"
	TagInt8   TypeTag = "int8"
	TagUint16 TypeTag = "uint16"
	TagInt16  TypeTag = "int16"
	TagUint32 TypeTag = "uint32"
	TagInt32  TypeTag = "int32"
)

// ErrUnknownTypeTag 未知的类型标签
var ErrUnknownTypeTag = errors.New("arcom: unknown type tag")

type tagInfo struct {
	width int
	min   int64
	max   int64
}

var tagTable = map[TypeTag]tagInfo{
	TagChar:   {1, 0, math.MaxUint8},
	TagUint8:  {1, 0, math.MaxUint8},
	TagInt8:   {1, math.MinInt8, math.MaxInt8},
	TagUint16: {2, 0, math.MaxUint16},
	TagInt16:  {2, math.MinInt16, math.MaxInt16},
	TagUint32: {4, 0, math.MaxUint32},
	TagInt32:  {4, math.MinInt32, math.MaxInt32},
}

// Tags 返回所有支持的类型标签
func Tags() []TypeTag {
	return []TypeTag{TagChar, TagUint8, TagInt8, TagUint16, TagInt16, TagUint32, TagInt32}
}

// ParseTypeTag 解析类型标签（忽略大小写）
func ParseTypeTag(s string) (TypeTag, error) {
	tag := TypeTag(strings.ToLower(strings.TrimSpace(s)))
	if !tag.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTypeTag, s)
	}
	return tag, nil
}

// Valid 是否为支持的标签
func (t TypeTag) Valid() bool {
	_, ok := tagTable[t]
	return ok
}

// Width 单个元素的字节宽度，未知标签返回0
func (t TypeTag) Width() int {
	return tagTable[t].width
}

// Min 可表示的最小值
func (t TypeTag) Min() int64 {
	return tagTable[t].min
}

// Max 可表示的最大值
func (t TypeTag) Max() int64 {
	return tagTable[t].max
}

// Signed 是否为有符号类型
func (t TypeTag) Signed() bool {
	return tagTable[t].min < 0
}

func (t TypeTag) String() string {
	return string(t)
}

// Integer 可转换为线路数值的整数类型
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Segment 一次写入中的一段同类型数值
type Segment struct {
	Tag    TypeTag `json:"type"`
	Values []int64 `json:"values"`
}

// Len 编码后的字节数
func (s Segment) Len() int {
	return len(s.Values) * s.Tag.Width()
}

// Want 一次读取中声明的一段数值
type Want struct {
	Count int     `json:"count"`
	Tag   TypeTag `json:"type"`
}

// Len 需要接收的字节数
func (w Want) Len() int {
	return w.Count * w.Tag.Width()
}

// Seg 以任意整数切片构造一段数值
func Seg[T Integer](tag TypeTag, values []T) Segment {
	return Segment{Tag: tag, Values: Ints(values...)}
}

// Ints 将整数切片转换为 []int64
func Ints[T Integer](values ...T) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(v)
	}
	return out
}

// Repeat 生成 n 个相同的值
func Repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Char 构造 char 段
func Char(values ...int64) Segment { return Segment{Tag: TagChar, Values: values} }

// Uint8 构造 uint8 段
func Uint8(values ...int64) Segment { return Segment{Tag: TagUint8, Values: values} }

// Int8 构造 int8 段
func Int8(values ...int64) Segment { return Segment{Tag: TagInt8, Values: values} }

// Uint16 构造 uint16 段
func Uint16(values ...int64) Segment { return Segment{Tag: TagUint16, Values: values} }

// Int16 构造 int16 段
func Int16(values ...int64) Segment { return Segment{Tag: TagInt16, Values: values} }

// Uint32 构造 uint32 段
func Uint32(values ...int64) Segment { return Segment{Tag: TagUint32, Values: values} }

// Int32 构造 int32 段
func Int32(values ...int64) Segment { return Segment{Tag: TagInt32, Values: values} }

// Bytes 以原始字节构造 uint8 段
func Bytes(b []byte) Segment { return Seg(TagUint8, b) }

// Read 构造读取声明
func Read(count int, tag TypeTag) Want {
	return Want{Count: count, Tag: tag}
}
