package cmd

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ilkerhalil/SharedMemory/rpc"
)

var (
	benchCount int
	benchSize  int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Round-trip benchmark against a running serve peer",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := rpc.New(channelName,
			rpc.WithCapacity(capacity),
			rpc.WithNodeCount(nodeCount),
		)
		if err != nil {
			return err
		}
		defer buf.Dispose()

		payload := make([]byte, benchSize)
		if _, err := rand.Read(payload); err != nil {
			return err
		}

		start := time.Now()
		failed := 0
		for i := 0; i < benchCount; i++ {
			resp, err := buf.Request(payload, rpc.DefaultTimeout)
			if err != nil {
				return err
			}
			if !resp.Success {
				failed++
			}
		}
		elapsed := time.Since(start)

		fmt.Printf("%d round trips of %d bytes in %s (%.0f/s, %d failed)\n",
			benchCount, benchSize, elapsed,
			float64(benchCount)/elapsed.Seconds(), failed)
		printStats(buf.Stats())
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchCount, "count", "n", 1000, "number of round trips")
	benchCmd.Flags().IntVarP(&benchSize, "size", "s", 1024, "payload size in bytes")
	rootCmd.AddCommand(benchCmd)
}
