package main

import "github.com/jmehdipour/stock-sync/cmd"

func main() {
	cmd.Execute()
}
