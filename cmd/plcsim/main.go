package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenMachineMonitor/internal/simulator"
	"go.uber.org/zap"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen host")
	port := flag.Int("port", 5020, "listen port")
	registers := flag.Int("registers", simulator.DefaultRegisters, "number of holding registers")
	update := flag.Duration("update", time.Second, "register update interval")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "noise seed")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	var (
		logger *zap.Logger
		err    error
	)
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile := simulator.DefaultProfile()
	for addr, sig := range profile {
		logger.Info("Register mapping",
			zap.String("register", fmt.Sprintf("D%d", addr)),
			zap.String("name", sig.Name),
			zap.String("unit", sig.Unit),
			zap.Int("scale", 100))
	}

	srv := simulator.NewServer(*registers, logger)
	go srv.Run(ctx, simulator.NewGenerator(profile, time.Now(), *seed), *update)

	addr := fmt.Sprintf("%s:%d", *host, *port)
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		logger.Error("Simulator failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Simulator stopped")
}
