package main

import (
	"github.com/luma/tcpserial/cmd"
)

func main() {
	cmd.Execute()
}
