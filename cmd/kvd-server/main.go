// Command kvd-server runs the single-threaded key-value server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lzgustavo/kvd/internal/config"
	"github.com/lzgustavo/kvd/internal/eventloop"
	"github.com/lzgustavo/kvd/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "kvd-server",
		Usage: "single-threaded in-memory key-value server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides config"},
			&cli.Int64Flag{Name: "idle-timeout-ms", Usage: "idle connection timeout in ms, overrides config"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if ms := c.Int64("idle-timeout-ms"); ms != 0 {
		cfg.IdleTimeoutMs = ms
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	listenFd, err := listen(cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}
	defer unix.Close(listenFd)

	logger.Info("listening", zap.String("addr", cfg.Addr))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db := store.New()
	loop := eventloop.New(listenFd, db, logger, cfg.IdleTimeoutMs*1000, cfg.TTLTickMax)
	return loop.Run(ctx)
}

// listen parses host:port, creates a non-blocking IPv4 listening socket and
// binds it, the way the event loop expects to receive it.
func listen(addr string) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To4())
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
