package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Running 表示后台运行中的状态服务。
type Running struct {
	app    *fiber.App
	addr   string
	logger *logrus.Logger
	done   chan error
}

// Start 在后台 goroutine 中监听 addr；流水线结束后调用 Stop 关闭。
func Start(app *fiber.App, addr string, logger *logrus.Logger) *Running {
	r := &Running{app: app, addr: addr, logger: logger, done: make(chan error, 1)}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   addr,
	}).Info("状态服务启动")

	go func() {
		r.done <- app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	return r
}

// Stop 优雅关闭状态服务，并返回监听阶段的错误（如端口被占用）。
func (r *Running) Stop() error {
	if r == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := r.app.ShutdownWithContext(ctx); err != nil {
		r.logger.WithFields(logrus.Fields{
			"action": "shutdown",
			"addr":   r.addr,
			"error":  err.Error(),
		}).Warn("状态服务关闭失败")
	}

	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
