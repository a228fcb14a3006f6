package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"voxsight/internal/ipc"
)

const usage = `usage: voxsight-ctl [flags] <command> [text]

commands:
  listen | stop | capture | back | status
  say <text>        speak text
  command <text>    handle text as a spoken command
  mode <name>       home, object, currency, text or scene
  camera-start | camera-stop | camera-retry | camera-permit
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	timeout := cli.DurationP("timeout", "t", 10*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}
	req := ipc.Request{
		Cmd:  cli.Arg(0),
		Text: strings.Join(cli.Args()[1:], " "),
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "voxsight-ctl:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, "voxsight-ctl:", resp.Error)
		os.Exit(1)
	}
	if len(resp.Data) > 0 {
		var out bytes.Buffer
		if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
			out.Reset()
			out.Write(resp.Data)
		}
		fmt.Println(out.String())
	}
}
