// Command kvd-cli is a thin client for the key-value server: it sends one
// request per invocation and prints the response in a human-readable form.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lzgustavo/kvd/internal/proto"
)

func main() {
	app := &cli.App{
		Name:      "kvd-cli",
		Usage:     "send a single command to a kvd-server instance",
		UsageText: "kvd-cli [--addr host:port] COMMAND [ARG...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:1234", Usage: "server address"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("missing command", 1)
	}

	args := make([][]byte, c.NArg())
	for i, a := range c.Args().Slice() {
		args[i] = []byte(a)
	}

	conn, err := net.DialTimeout("tcp", c.String("addr"), 3*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.String("addr"), err)
	}
	defer conn.Close()

	payload, err := proto.EncodeRequest(args)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	framed, err := proto.WriteFrame(payload)
	if err != nil {
		return fmt.Errorf("framing request: %w", err)
	}
	if _, err := conn.Write(framed); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	r := bufio.NewReader(conn)
	v, err := proto.DecodeValue(r)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	printValue(os.Stdout, v)
	return nil
}

func printValue(w io.Writer, v proto.Value) {
	switch v.Tag {
	case proto.TagNil:
		fmt.Fprintln(w, "(nil)")
	case proto.TagErr:
		fmt.Fprintf(w, "(err) [%d] %s\n", v.Code, v.Msg)
	case proto.TagStr:
		fmt.Fprintf(w, "(str) %s\n", v.Str)
	case proto.TagInt:
		fmt.Fprintf(w, "(int) %s\n", strconv.FormatInt(v.Int, 10))
	case proto.TagDbl:
		fmt.Fprintf(w, "(dbl) %s\n", strconv.FormatFloat(v.Dbl, 'g', -1, 64))
	case proto.TagArr:
		fmt.Fprintf(w, "(arr) %d elements\n", len(v.Arr))
		for i, e := range v.Arr {
			fmt.Fprintf(w, "  %d) ", i+1)
			printValue(w, e)
		}
	}
}
