package main

import "btcQuant/internal/cli"

func main() {
	cli.Execute()
}
