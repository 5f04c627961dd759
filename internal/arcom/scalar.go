package arcom

import "context"

// WriteUint8 写入 uint8 数值
func (c *Conn) WriteUint8(ctx context.Context, v ...uint8) error {
	return c.Write(ctx, Seg(TagUint8, v))
}

// WriteInt8 写入 int8 数值
func (c *Conn) WriteInt8(ctx context.Context, v ...int8) error {
	return c.Write(ctx, Seg(TagInt8, v))
}

// WriteUint16 写入 uint16 数值
func (c *Conn) WriteUint16(ctx context.Context, v ...uint16) error {
	return c.Write(ctx, Seg(TagUint16, v))
}

// WriteInt16 写入 int16 数值
func (c *Conn) WriteInt16(ctx context.Context, v ...int16) error {
	return c.Write(ctx, Seg(TagInt16, v))
}

// WriteUint32 写入 uint32 数值
func (c *Conn) WriteUint32(ctx context.Context, v ...uint32) error {
	return c.Write(ctx, Seg(TagUint32, v))
}

// WriteInt32 写入 int32 数值
func (c *Conn) WriteInt32(ctx context.Context, v ...int32) error {
	return c.Write(ctx, Seg(TagInt32, v))
}

// WriteBytes 写入原始字节
func (c *Conn) WriteBytes(ctx context.Context, b []byte) error {
	return c.Write(ctx, Bytes(b))
}

// ReadUint8 读取一个 uint8
func (c *Conn) ReadUint8(ctx context.Context) (uint8, error) {
	v, err := c.readOne(ctx, TagUint8)
	return uint8(v), err
}

// ReadInt8 读取一个 int8
func (c *Conn) ReadInt8(ctx context.Context) (int8, error) {
	v, err := c.readOne(ctx, TagInt8)
	return int8(v), err
}

// ReadUint16 读取一个 uint16
func (c *Conn) ReadUint16(ctx context.Context) (uint16, error) {
	v, err := c.readOne(ctx, TagUint16)
	return uint16(v), err
}

// ReadInt16 读取一个 int16
func (c *Conn) ReadInt16(ctx context.Context) (int16, error) {
	v, err := c.readOne(ctx, TagInt16)
	return int16(v), err
}

// ReadUint32 读取一个 uint32
func (c *Conn) ReadUint32(ctx context.Context) (uint32, error) {
	v, err := c.readOne(ctx, TagUint32)
	return uint32(v), err
}

// ReadInt32 读取一个 int32
func (c *Conn) ReadInt32(ctx context.Context) (int32, error) {
	v, err := c.readOne(ctx, TagInt32)
	return int32(v), err
}

// ReadBytes 读取 n 个原始字节
func (c *Conn) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	out, err := c.Read(ctx, Read(n, TagUint8))
	if err != nil {
		return nil, err
	}
	b := make([]byte, len(out[0]))
	for i, v := range out[0] {
		b[i] = byte(v)
	}
	return b, nil
}

func (c *Conn) readOne(ctx context.Context, tag TypeTag) (int64, error) {
	out, err := c.Read(ctx, Read(1, tag))
	if err != nil {
		return 0, err
	}
	return out[0][0], nil
}
