// Copyright © 2016 NAME HERE <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jellybean4/urft/transfer"
)

var (
	lhost *string
	lport *uint32
	ldest *string
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen [host port]",
	Short: "listen on a specifiled port for client.",
	Long: `listen binds host:port, receives exactly one file and exits. The
file is saved under the destination directory with the name the client sent.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: ExecuteListen,
}

func init() {
	RootCmd.AddCommand(listenCmd)
	lhost = listenCmd.Flags().StringP("host", "H", "0.0.0.0", "the address of server to listen on")
	lport = listenCmd.Flags().Uint32P("port", "p", 0, "the port of server to listen to")
	ldest = listenCmd.Flags().StringP("dest", "d", "src", "the destination directory name to save file")
}

func ExecuteListen(cmd *cobra.Command, args []string) error {
	host, port, err := hostPort(args, *lhost, *lport)
	if err != nil {
		cmd.Usage()
		return err
	}
	conf, opts, err := buildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	server, err := transfer.Listen(net.JoinHostPort(host, strconv.Itoa(port)), *ldest, conf, opts...)
	if err != nil {
		return err
	}

	watch, cancel := context.WithCancel(ctx)
	defer cancel()
	go report(watch, logrus.StandardLogger(), "receive progress", func() logrus.Fields {
		snap := server.Stats().Snapshot()
		return logrus.Fields{
			"expected":  snap.Expected,
			"bytes":     snap.BytesWritten,
			"discarded": snap.Discarded,
			"acks":      snap.AcksSent,
		}
	})
	_, err = server.Run(ctx)
	return err
}
