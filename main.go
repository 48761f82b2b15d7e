package main

import "discuno-payments/internal/cli"

func main() {
	cli.Execute()
}
