// Package arcom 实现 ArCOM 串口约定：按调用方给出的类型标签，
// 将整数序列编码为定宽小端序字节直接拼接发送，接收端按相同的标签序列解码。
// 线路上没有帧头、长度前缀或校验，双方必须事先约定类型顺序。
//
//	conn, err := arcom.Open(ctx, "COM3", 115200)
//	err = conn.Write(ctx, arcom.Uint16(arcom.Repeat(5, 100)...), arcom.Uint32(arcom.Repeat(500, 100)...))
//	values, err := conn.Read(ctx, arcom.Read(100, arcom.TagUint16), arcom.Read(100, arcom.TagUint32))
package arcom
