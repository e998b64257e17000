package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ilkerhalil/SharedMemory/rpc"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call [payload...]",
	Short: "Send one request on the channel and print the response",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := rpc.New(channelName,
			rpc.WithCapacity(capacity),
			rpc.WithNodeCount(nodeCount),
		)
		if err != nil {
			return err
		}
		defer buf.Dispose()

		payload := []byte(strings.Join(args, " "))
		resp, err := buf.Request(payload, callTimeout)
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("request failed")
		}

		fmt.Printf("%s\n", resp.Data)
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", rpc.DefaultTimeout, "request timeout")
	rootCmd.AddCommand(callCmd)
}
