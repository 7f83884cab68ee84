package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/bootstrap"
)

// 独立的持久化 Worker 进程，与网关实例分开扩容
func main() {
	app, err := bootstrap.NewApp(bootstrap.RoleWorker)
	if err != nil {
		logrus.Fatalf("Failed to initialize worker: %v", err)
	}
	app.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received...")

	app.Shutdown()
}
