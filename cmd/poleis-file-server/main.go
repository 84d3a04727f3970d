/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command poleis-file-server receives one file over an ICE-established
// transport connection. It prints its credential line, reads the peer's
// line from standard input, accepts the connection and writes the
// received file.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	chnice "github.com/seesky/poleis/channel/ice"
	"github.com/seesky/poleis/socket"
	"github.com/seesky/poleis/transfer"
)

var (
	flagVerbose bool
	flagQuiet   bool
	flagStun    string
	flagTurn    string
	flagOutput  string
)

func main() {
	cmd := &cobra.Command{
		Use:           "poleis-file-server",
		Short:         "receive one file over an ICE transport connection",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
	cmd.Flags().StringVar(&flagStun, "stun", "", "STUN server, host[:port]")
	cmd.Flags().StringVar(&flagTurn, "turn", "", "TURN relay, host[:port],user,pass")
	cmd.Flags().StringVar(&flagOutput, "output", transfer.DefaultOutputName, "destination file")

	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func logLevel() {
	switch {
	case flagQuiet:
		logrus.SetLevel(logrus.ErrorLevel)
	case flagVerbose:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func run(_ *cobra.Command, _ []string) error {
	logLevel()

	if err := socket.Startup(); err != nil {
		return err
	}
	defer func() { _ = socket.Cleanup() }()

	srv, err := socket.NewICE(chnice.Config{Controlling: false})
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err = srv.Bind(""); err != nil {
		return err
	}

	if flagStun != "" {
		if err = srv.SetOption(socket.OptIceStunServer, flagStun); err != nil {
			return err
		}
	}
	if flagTurn != "" {
		if err = srv.SetOption(socket.OptIceTurnServer, flagTurn); err != nil {
			return err
		}
	}

	info, err := srv.ICEInfo()
	if err != nil {
		return err
	}
	fmt.Println(chnice.FormatInfo(info))

	fmt.Println("Paste remote ICE info (length-prefixed fields as printed above):")
	line, rerr := bufio.NewReader(os.Stdin).ReadString('\n')
	if rerr != nil && line == "" {
		return rerr
	}

	remote, err := chnice.ParseInfo(line)
	if err != nil {
		return err
	}
	if err = srv.SetICEInfo(remote); err != nil {
		return err
	}

	if err = srv.Listen(1); err != nil {
		return err
	}

	acc, peer, err := srv.Accept()
	if err != nil {
		return err
	}
	defer func() { _ = acc.Close() }()

	if peer != nil {
		logrus.Infof("new connection: %s", peer)
	} else {
		logrus.Info("new connection")
	}

	hdr, err := transfer.ReadHeader(sockStream{acc})
	if err != nil {
		return err
	}

	out, oerr := os.Create(flagOutput)
	if oerr != nil {
		return oerr
	}
	defer func() { _ = out.Close() }()

	n, err := acc.RecvFile(out, hdr.Size)
	if err != nil {
		return err
	}

	logrus.Infof("received file %q (%d bytes) saved as %q", hdr.Name, n, flagOutput)
	return nil
}

// sockStream adapts the transport stream to io.Reader for the framing
// helpers.
type sockStream struct {
	s *socket.Socket
}

func (r sockStream) Read(p []byte) (int, error) {
	n, err := r.s.Recv(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, fmt.Errorf("connection closed")
	}
	return n, nil
}
