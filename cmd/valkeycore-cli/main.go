package main

import "github.com/glidecore/valkeycore/cmd/valkeycore-cli/cmd"

func main() {
	cmd.Execute()
}
