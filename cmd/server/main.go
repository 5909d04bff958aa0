package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"privora/internal/api"
	"privora/internal/auth"
	"privora/internal/config"
	"privora/internal/mail"
	"privora/internal/notify"
	"privora/internal/presence"
	"privora/internal/storage"
	"privora/internal/transfer"
	"privora/internal/ws"
	"privora/pkg/utils"
)

func main() {
	port := flag.Int("port", 5000, "API and WebSocket port")
	uploadDir := flag.String("uploads", "", "Directory for encrypted blobs (defaults to ./uploads)")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Uploads dir
	dir := *uploadDir
	if dir == "" {
		dir = "uploads"
	}
	os.MkdirAll(dir, 0755)

	// PostgreSQL DSN — env override or default
	dbDSN := getEnv("DATABASE_URL",
		"host=127.0.0.1 port=5432 user=privora password=privora dbname=privora sslmode=disable")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}

	cfg := config.Config{
		ServerPort:    *port,
		DatabaseURL:   dbDSN,
		JWTSecret:     jwtSecret,
		TokenTTL:      24 * time.Hour,
		UploadDir:     dir,
		MaxUploadSize: 100 << 20,
		HeartbeatTTL:  5 * time.Minute,
		ReapInterval:  5 * time.Minute,
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		SMTPPass:      os.Getenv("SMTP_PASS"),
	}

	// Storage (Postgres)
	store, err := storage.NewStore(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("Cannot connect to database (set DATABASE_URL to override)")
	}
	logrus.Info("Connected to PostgreSQL database")

	localIP := utils.GetLocalIP()
	if localIP == "" {
		localIP = "127.0.0.1"
	}

	// Wire up services
	verifier := auth.NewVerifier(cfg.JWTSecret, store)
	registry := presence.NewRegistry()
	gateway := ws.NewGateway(verifier, registry)
	dispatcher := notify.NewDispatcher(registry, gateway)
	coordinator := transfer.NewCoordinator(store, dispatcher)
	mailer := mail.NewMailer(cfg.SMTPFrom, cfg.SMTPPass)

	reaper := presence.NewReaper(registry, cfg.HeartbeatTTL, cfg.ReapInterval, gateway.BroadcastRoster)
	reaper.Start()
	defer reaper.Stop()

	server := api.NewServer(cfg, store, verifier, coordinator, registry, gateway, mailer, localIP)

	printBanner(cfg, localIP, dir)

	logrus.Fatal(server.Start())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printBanner(cfg config.Config, localIP, uploadDir string) {
	fmt.Printf("\n")
	fmt.Printf("╔══════════════════════════════════════════════════════╗\n")
	fmt.Printf("║               Privora Server — Ready!                ║\n")
	fmt.Printf("╠══════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Local IP : %-40s║\n", localIP)
	fmt.Printf("║  API      : http://localhost:%-25d║\n", cfg.ServerPort)
	fmt.Printf("║  Socket   : ws://localhost:%d/ws%-20s║\n", cfg.ServerPort, "")
	fmt.Printf("║  Uploads  : %-40s║\n", uploadDir)
	fmt.Printf("╚══════════════════════════════════════════════════════╝\n\n")
}
