package main

import (
	"github.com/luma/antenna/cmd"
)

func main() {
	cmd.Execute()
}
