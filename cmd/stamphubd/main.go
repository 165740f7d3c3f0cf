package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codefionn/stamphub/internal/artifacts"
	"github.com/codefionn/stamphub/internal/config"
	"github.com/codefionn/stamphub/internal/hub"
	"github.com/codefionn/stamphub/internal/logger"
	"github.com/codefionn/stamphub/internal/relay"
	"github.com/codefionn/stamphub/internal/stamp"
)

// Exit codes: 2 means a default settings file was written for review,
// 3 means the settings file failed schema validation.
const (
	exitWroteDefault  = 2
	exitInvalidSchema = 3
)

const engineShutdownTimeout = 10 * time.Second

type listener interface {
	Serve() error
	Shutdown() error
}

func main() {
	settingsPath := flag.String("settings", config.DefaultPath, "path to the settings file")
	flag.Parse()

	settings, err := config.Load(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, config.ErrWroteDefault):
			fmt.Fprintln(os.Stderr, "Please review the written settings, then restart the server.")
			os.Exit(exitWroteDefault)
		case errors.Is(err, config.ErrInvalidSchema):
			os.Exit(exitInvalidSchema)
		default:
			os.Exit(1)
		}
	}

	if err := run(settings); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings) error {
	if err := logger.Init(logger.ParseLevel(settings.LogLevel), settings.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Global().Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", err)
		}
	}()

	h := hub.New()

	var engine *stamp.Engine
	if settings.Gimp.Enabled {
		var err error
		engine, err = stamp.New(settings.Gimp, h)
		if err != nil {
			return err
		}
	}

	certFile, keyFile := "", ""
	if settings.SecureEnabled {
		certFile = settings.SSLCert.CertFile
		keyFile = settings.SSLCert.KeyFile
	}

	var listeners []listener

	if settings.HTTPEnabled {
		if !settings.Gimp.Enabled {
			return fmt.Errorf("http server enabled but there is no output images directory to serve (gimp is disabled)")
		}
		if settings.InsecureEnabled {
			srv, err := artifacts.NewServer(listenAddr(settings, settings.Ports.HTTP), settings.Gimp.OutputImgsDirPath, "", "")
			if err != nil {
				return err
			}
			listeners = append(listeners, srv)
		}
		if settings.SecureEnabled {
			srv, err := artifacts.NewServer(listenAddr(settings, settings.Ports.HTTPS), settings.Gimp.OutputImgsDirPath, certFile, keyFile)
			if err != nil {
				return err
			}
			listeners = append(listeners, srv)
		}
	}

	if settings.InsecureEnabled {
		listeners = append(listeners, relay.NewServer(listenAddr(settings, settings.Ports.WS), h, engine, "", ""))
	}
	if settings.SecureEnabled {
		listeners = append(listeners, relay.NewServer(listenAddr(settings, settings.Ports.WSS), h, engine, certFile, keyFile))
	}

	if len(listeners) == 0 {
		return fmt.Errorf("no listeners enabled in settings")
	}

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		go func() {
			errCh <- l.Serve()
		}()
	}

	var engineDone chan error
	if engine != nil {
		engineDone = make(chan error, 1)
		go func() {
			engineDone <- engine.Run()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var firstErr error
	select {
	case err := <-errCh:
		firstErr = err
	case sig := <-sigCh:
		logger.Info("received %v, shutting down", sig)
	case err := <-engineDone:
		engineDone = nil
		firstErr = err
	}

	for _, l := range listeners {
		if err := l.Shutdown(); err != nil {
			logger.Warn("listener shutdown: %v", err)
		}
	}

	// Stop the stamp worker as soon as any listener exits; the sentinel
	// triggers the session teardown.
	if engine != nil {
		engine.Stop()
		if engineDone != nil {
			select {
			case err := <-engineDone:
				if firstErr == nil {
					firstErr = err
				}
			case <-time.After(engineShutdownTimeout):
				logger.Warn("stamp engine did not shut down within %v", engineShutdownTimeout)
			}
		}
	}

	return firstErr
}

func listenAddr(settings *config.Settings, port int) string {
	return fmt.Sprintf("%s:%d", settings.HostToBind, port)
}
