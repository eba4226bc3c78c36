package main

import (
	"groupcal/internal/cli"
)

func main() {
	cli.Execute()
}
