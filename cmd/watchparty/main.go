package main

import "github.com/dkeye/WatchParty/cmd/watchparty/cmd"

func main() {
	cmd.Execute()
}
