package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wakegate/internal/auth"
	"wakegate/internal/config"
	"wakegate/internal/logring"
	"wakegate/internal/server"

	"github.com/gin-gonic/gin"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

var (
	configPath   = flag.String("config", os.Getenv("WAKEGATE_CONFIG"), "path to the YAML config file")
	hashPassword = flag.Bool("hash-password", false, "read a password from stdin, print its argon2id hash and exit")
	showVersion  = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *hashPassword {
		if err := printHash(os.Stdin, os.Stdout); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	ring := logring.New(cfg.Dashboard.LogLines)
	log.SetOutput(io.MultiWriter(os.Stderr, ring))
	gin.SetMode(gin.ReleaseMode)

	srv, err := server.NewGinServer(cfg, server.WithGinVersion(version), server.WithLogRing(ring))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("FATAL: Server failed to start: %v", err)
	}
	<-ctx.Done()
	log.Printf("INFO: Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("ERROR: Shutdown incomplete: %v", err)
		os.Exit(1)
	}
	if err := srv.Metrics().Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: Failed to flush metrics: %v", err)
	}
}

func printHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
