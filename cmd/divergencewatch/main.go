package main

import "price-divergence/internal/cli"

func main() {
	cli.Execute()
}
