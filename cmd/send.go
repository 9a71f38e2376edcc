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
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jellybean4/urft/arq"
	"github.com/jellybean4/urft/transfer"
)

var (
	shost *string
	sname *string
	sport *uint32
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send [file host port]",
	Short: "send file from local to remote",
	Long: `send is used to send local file to remote side. The file, host and
port may be given as arguments or through the -n, -H and -p flags.`,
	Args: cobra.RangeArgs(0, 3),
	RunE: ExecuteSend,
}

func init() {
	RootCmd.AddCommand(sendCmd)

	shost = sendCmd.Flags().StringP("host", "H", "", "the host of remote side server")
	sport = sendCmd.Flags().Uint32P("port", "p", 0, "the port of remote side server")
	sname = sendCmd.Flags().StringP("name", "n", "", "name of the file to send")
}

func ExecuteSend(cmd *cobra.Command, args []string) error {
	name := *sname
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	if name == "" {
		cmd.Usage()
		return fmt.Errorf("file to send is required")
	}
	host, port, err := hostPort(args, *shost, *sport)
	if err != nil {
		cmd.Usage()
		return err
	}
	conf, opts, err := buildConfig()
	if err != nil {
		return err
	}
	peer, err := arq.ResolvePeer(host, port)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	client, err := transfer.Dial(name, peer.String(), conf, opts...)
	if err != nil {
		return err
	}

	watch, cancel := context.WithCancel(ctx)
	defer cancel()
	go report(watch, logrus.StandardLogger(), "send progress", func() logrus.Fields {
		snap := client.Stats().Snapshot()
		return logrus.Fields{
			"acked":       snap.Acknowledged,
			"total":       snap.TotalPackets,
			"bytes":       snap.BytesAcked,
			"retransmits": snap.Retransmits,
		}
	})
	return client.Run(ctx)
}
