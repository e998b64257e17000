package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ilkerhalil/SharedMemory/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo server on the channel until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := rpc.New(channelName,
			rpc.WithCapacity(capacity),
			rpc.WithNodeCount(nodeCount),
			rpc.WithHandler(rpc.Call(func(msgID uint64, data []byte) []byte {
				slog.Debug("echo", "msg_id", msgID, "bytes", len(data))
				return data
			})),
		)
		if err != nil {
			return err
		}

		slog.Info("serving", "name", channelName, "master", buf.IsMaster())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		buf.Dispose()
		for !buf.DisposeFinished() {
			time.Sleep(10 * time.Millisecond)
		}

		printStats(buf.Stats())
		return nil
	},
}

func printStats(s rpc.StatsSnapshot) {
	fmt.Printf("messages sent/received:  %d/%d\n", s.MessagesSent, s.MessagesReceived)
	fmt.Printf("requests sent/received:  %d/%d\n", s.RequestsSent, s.RequestsReceived)
	fmt.Printf("responses sent/received: %d/%d\n", s.ResponsesSent, s.ResponsesReceived)
	fmt.Printf("errors sent/received:    %d/%d\n", s.ErrorsSent, s.ErrorsReceived)
	fmt.Printf("packets written/read:    %d/%d\n", s.PacketsWritten, s.PacketsRead)
	fmt.Printf("bytes written/read:      %d/%d\n", s.BytesWritten, s.BytesRead)
	fmt.Printf("timeouts:                %d\n", s.Timeouts)
	fmt.Printf("discarded responses:     %d\n", s.DiscardedResponses)
	fmt.Printf("max write wait:          %s\n", s.MaxWriteWait)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
