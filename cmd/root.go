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
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jellybean4/urft/arq"
)

var (
	verbose   *bool
	logFormat *string

	chunk          *uint32
	window         *uint32
	timeout        *time.Duration
	controlTimeout *time.Duration
	retries        *uint32
	maxElapsed     *time.Duration
	linger         *time.Duration
	tos            *uint32
	noPin          *bool
)

// PROGRESS_INTERVAL is how often a running transfer logs its counters.
const PROGRESS_INTERVAL = time.Second

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "urft",
	Short: "reliable file transfer over UDP",
	Long: `urft moves one file from a client to a server over UDP, using
a Go-Back-N sliding window to recover from loss, duplication and reordering.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute adds all child commands to the root command and exits non-zero on
// failure. This is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := RootCmd.PersistentFlags()
	verbose = flags.BoolP("verbose", "v", false, "log every frame")
	logFormat = flags.String("log-format", "text", "log output format, text or json")

	chunk = flags.Uint32("chunk", arq.DEFAULT_CHUNK_SIZE, "max payload bytes per data packet")
	window = flags.Uint32("window", arq.DEFAULT_WINDOW_SIZE, "max data packets in flight")
	timeout = flags.Duration("timeout", arq.DEFAULT_TIMEOUT, "retransmission timeout for data packets")
	controlTimeout = flags.Duration("control-timeout", arq.DEFAULT_CONTROL_TIMEOUT, "retransmission timeout for filename and eof")
	retries = flags.Uint32("retries", arq.DEFAULT_MAX_RETRIES, "retransmissions without progress before giving up, 0 never gives up")
	maxElapsed = flags.Duration("max-elapsed", 0, "give up when a transfer runs longer than this, 0 disables")
	linger = flags.Duration("linger", arq.DEFAULT_LINGER, "how long the server keeps answering a re-sent eof")
	tos = flags.Uint32("tos", 0, "IPv4 type-of-service byte for outgoing packets")
	noPin = flags.Bool("no-pin", false, "accept packets from any address once a transfer started")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	switch *logFormat {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", *logFormat)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func buildConfig() (arq.Config, []arq.Option, error) {
	conf := arq.DefaultConfig()
	conf.ChunkSize = int(*chunk)
	conf.WindowSize = int(*window)
	conf.Timeout = *timeout
	conf.ControlTimeout = *controlTimeout
	conf.MaxRetries = int(*retries)
	conf.MaxElapsed = *maxElapsed
	conf.Linger = *linger
	conf.PinPeer = !*noPin
	if err := conf.Validate(); err != nil {
		return conf, nil, err
	} else if *tos > 0xff {
		return conf, nil, fmt.Errorf("tos %d does not fit a byte", *tos)
	}
	return conf, []arq.Option{arq.WithTOS(int(*tos))}, nil
}

// hostPort takes host and port from positional args when given, else from
// the flag values.
func hostPort(args []string, host string, port uint32) (string, int, error) {
	if len(args) >= 2 {
		host = args[0]
		val, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q", args[1])
		}
		port = uint32(val)
	}
	if host == "" || port == 0 || port > 65535 {
		return "", 0, fmt.Errorf("host and port are required")
	}
	return host, int(port), nil
}

// report logs fields every PROGRESS_INTERVAL until ctx is done.
func report(ctx context.Context, log logrus.FieldLogger, msg string, fields func() logrus.Fields) {
	ticker := time.NewTicker(PROGRESS_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.WithFields(fields()).Info(msg)
		}
	}
}
