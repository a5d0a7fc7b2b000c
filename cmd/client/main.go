package main

import "clinisync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
