// arcom-example 向下位机发送 100 个 uint16(5) 与 100 个 uint32(500)，再读回同样的序列。
// 固件侧把收到的数据原样回发即可验证；-loopback 使用内存回环，无需硬件。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/hardware"
	"github.com/wfunc/arcom/internal/logger"
	"go.uber.org/zap"
)

func main() {
	var (
		port     = flag.String("port", "COM3", "串口名")
		baud     = flag.Int("baud", 115200, "波特率")
		driver   = flag.String("driver", hardware.DriverTarm, "串口驱动 tarm / bugst")
		loopback = flag.Bool("loopback", false, "使用内存回环串口")
		timeout  = flag.Duration("timeout", 2*time.Second, "读取超时，0 表示一直等待")
		count    = flag.Int("count", 100, "每段数值个数")
	)
	flag.Parse()

	if err := logger.Init(&config.LogConfig{Level: "info", Format: "console", Output: "stdout"}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	if *loopback {
		*driver = hardware.DriverLoopback
	}
	if err := run(*port, *baud, *driver, *timeout, *count); err != nil {
		logger.Error("示例失败", zap.Error(err))
		os.Exit(1)
	}
}

func run(port string, baud int, driver string, timeout time.Duration, count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := arcom.Open(ctx, port, baud,
		arcom.WithDriver(driver),
		arcom.WithReadTimeout(timeout),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	// 交替的 数值, 类型 参数
	segs, err := arcom.ParseArgs(
		arcom.Repeat(5, count), "uint16",
		arcom.Repeat(500, count), "uint32",
	)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, segs...); err != nil {
		return err
	}
	logger.Info("已发送", zap.String("tags", arcom.Summary(segs...)), zap.Int("bytes", arcom.EncodedLen(segs...)))

	wants, err := arcom.ParseWants(count, "uint16", count, "uint32")
	if err != nil {
		return err
	}
	values, err := conn.Read(ctx, wants...)
	if err != nil {
		return err
	}

	for i, v := range values {
		fmt.Printf("%s: %v\n", wants[i].Tag, v)
	}
	stats := conn.Stats()
	logger.Info("收发完成",
		zap.Uint64("bytes_written", stats.BytesWritten),
		zap.Uint64("bytes_read", stats.BytesRead))
	return nil
}
