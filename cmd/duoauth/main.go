// Package main provides the duoauth command line tool. It drives the Duo
// Auth API client: verifying connectivity and credentials, checking what
// authentication options a user has, and running an asynchronous push
// authentication to approve or reject an action.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vaultmesh/duoauth/duo"
	"github.com/vaultmesh/duoauth/internal/config"
	"github.com/vaultmesh/duoauth/internal/logging"
	"github.com/vaultmesh/duoauth/internal/util"

	log "github.com/sirupsen/logrus"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var check bool
	var preauth bool
	var auth bool
	var userID string
	var shareN int
	var configPath string

	flag.BoolVar(&check, "check", false, "Verify connectivity and credentials against the API")
	flag.BoolVar(&preauth, "preauth", false, "Check which authentication options the user has")
	flag.BoolVar(&auth, "auth", false, "Start a push authentication and wait for the user's decision")
	flag.StringVar(&userID, "user", "", "User ID for -preauth and -auth")
	flag.IntVar(&shareN, "share", 1, "Share number shown on the user's device during -auth")
	flag.StringVar(&configPath, "config", "config.yaml", "Configuration file path")
	flag.Parse()

	// A .env file may carry the credentials; ignore when absent.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		// No config file: fall back to environment-only configuration.
		cfg, err = config.LoadConfig("")
	}
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	httpClient := util.SetProxy(cfg, &http.Client{})
	if cfg.RequestTimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}

	client, err := duo.New(cfg.APIDomain, cfg.IntegrationKey, cfg.SecretKey, duo.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatalf("failed to create Duo client: %v", err)
	}
	log.Debugf("using integration key %s against %s", maskKey(cfg.IntegrationKey), cfg.APIDomain)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case check:
		serverTime, errCheck := client.Check(ctx)
		if errCheck != nil {
			log.Fatalf("check failed: %v", errCheck)
		}
		fmt.Printf("OK, server time: %s\n", time.Unix(serverTime, 0).UTC().Format(time.RFC3339))
	case preauth:
		requireUser(userID)
		result, errPre := client.Preauth(ctx, userID)
		if errPre != nil {
			log.Fatalf("preauth failed: %v", errPre)
		}
		fmt.Printf("result: %s (%s)\n", result.Result, result.StatusMsg)
		for _, device := range result.Devices {
			fmt.Printf("  device %s type=%s name=%q number=%s capabilities=%v\n",
				device.ID, device.Type, device.Name, device.Number, device.Capabilities)
		}
	case auth:
		requireUser(userID)
		allowed, errAuth := client.Auth(ctx, userID, shareN)
		if errAuth != nil {
			log.Fatalf("auth failed: %v", errAuth)
		}
		if !allowed {
			fmt.Println("denied")
			os.Exit(1)
		}
		fmt.Println("allowed")
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func requireUser(userID string) {
	if userID == "" {
		log.Fatal("-user is required for this operation")
	}
}

// maskKey shortens a credential for logging, keeping only the first and
// last four characters.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
