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

// Command poleis-file-client sends one file over an ICE-established
// transport connection. It prints its credential line, reads the peer's
// line from standard input, connects and streams the file.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

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
)

func main() {
	cmd := &cobra.Command{
		Use:           "poleis-file-client <file>",
		Short:         "send one file over an ICE transport connection",
		Args:          cobra.ExactArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "errors only")
	cmd.Flags().StringVar(&flagStun, "stun", "", "STUN server, host[:port]")
	cmd.Flags().StringVar(&flagTurn, "turn", "", "TURN relay, host[:port],user,pass")

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

func run(_ *cobra.Command, args []string) error {
	logLevel()

	path := args[0]
	f, oerr := os.Open(path)
	if oerr != nil {
		return oerr
	}
	defer func() { _ = f.Close() }()

	st, oerr := f.Stat()
	if oerr != nil {
		return oerr
	}

	if err := socket.Startup(); err != nil {
		return err
	}
	defer func() { _ = socket.Cleanup() }()

	clt, err := socket.NewICE(chnice.Config{Controlling: true})
	if err != nil {
		return err
	}
	defer func() { _ = clt.Close() }()

	if err = clt.Bind(""); err != nil {
		return err
	}

	if flagStun != "" {
		if err = clt.SetOption(socket.OptIceStunServer, flagStun); err != nil {
			return err
		}
	}
	if flagTurn != "" {
		if err = clt.SetOption(socket.OptIceTurnServer, flagTurn); err != nil {
			return err
		}
	}

	info, err := clt.ICEInfo()
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
	if err = clt.SetICEInfo(remote); err != nil {
		return err
	}

	if err = clt.Connect(""); err != nil {
		return err
	}

	var hdr bytes.Buffer
	if err = transfer.WriteHeader(&hdr, transfer.Header{Name: filepath.Base(path), Size: st.Size()}); err != nil {
		return err
	}

	if _, err = clt.Send(hdr.Bytes()); err != nil {
		return err
	}

	n, err := clt.SendFile(f, st.Size())
	if err != nil {
		return err
	}

	logrus.Infof("sent file %q (%d bytes)", path, n)

	if stats, serr := clt.Perfmon(); serr == nil {
		logrus.Debugf("send rate %.2f Mb/s, rtt %.2f ms, %d retransmissions",
			stats.MbpsSendRate, stats.RTTMs, stats.PktRetrans)
	}

	return nil
}
