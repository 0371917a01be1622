// Command ordersim serves a local fake of the Earthdata endpoints so the
// earthfetch CLI can be exercised without an Earthdata account.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/psantana5/earthfetch/internal/simulator"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/shutdown"
	tlsutil "github.com/psantana5/earthfetch/pkg/tls"
)

func main() {
	addr := flag.String("addr", ":8089", "listen address")
	token := flag.String("token", "sim-token", "bearer token required on data endpoints (empty disables auth)")
	username := flag.String("username", "earthdata", "username accepted by the token endpoint")
	password := flag.String("password", "earthdata", "password accepted by the token endpoint")
	polls := flag.Int("polls", 3, "status requests before an order completes")
	useTLS := flag.Bool("tls", false, "serve HTTPS with a self-signed certificate")
	certDir := flag.String("cert-dir", "certs", "directory for the generated certificate")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), false)

	sim := simulator.New(simulator.Config{
		Token:           *token,
		Username:        *username,
		Password:        *password,
		PollsToComplete: *polls,
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      sim.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if *useTLS {
		certFile := filepath.Join(*certDir, "ordersim.crt")
		keyFile := filepath.Join(*certDir, "ordersim.key")
		if _, err := os.Stat(certFile); os.IsNotExist(err) {
			if err := os.MkdirAll(*certDir, 0755); err != nil {
				logger.Fatal("Failed to create certificate directory", logging.Fields{"error": err})
			}
			if err := tlsutil.GenerateSelfSigned(certFile, keyFile, "localhost"); err != nil {
				logger.Fatal("Failed to generate certificate", logging.Fields{"error": err})
			}
			logger.Info("Generated self-signed certificate", logging.Fields{"cert": certFile})
		}
		cfg, err := tlsutil.ServerConfig(certFile, keyFile)
		if err != nil {
			logger.Fatal("Failed to load certificate", logging.Fields{"error": err})
		}
		srv.TLSConfig = cfg
	}

	mgr := shutdown.New(10*time.Second, logger)
	mgr.Register("http-server", shutdown.StopHTTPServer(srv))
	ctx, stop := mgr.Context(context.Background())
	defer stop()

	go func() {
		logger.Info("Order simulator listening", logging.Fields{"addr": *addr, "tls": *useTLS, "polls_to_complete": *polls})
		var err error
		if *useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", logging.Fields{"error": err})
		}
	}()

	<-ctx.Done()
	if err := mgr.Shutdown(); err != nil {
		logger.Error("Shutdown finished with errors", logging.Fields{"error": err})
		os.Exit(1)
	}
}
