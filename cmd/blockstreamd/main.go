package main

import "github.com/nimbusfs/blockstream/cmd/blockstreamd/cmd"

func main() {
	cmd.Execute()
}
