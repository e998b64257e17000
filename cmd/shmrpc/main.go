package main

import "github.com/ilkerhalil/SharedMemory/cmd/shmrpc/cmd"

func main() {
	cmd.Execute()
}
