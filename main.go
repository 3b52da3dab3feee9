package main

import (
	"github.com/ledgerindex/gateway/cmd"
)

func main() {
	cmd.Execute()
}
