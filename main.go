package main

import (
	"log"

	"github.com/voltplan/voltplan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("voltplan: %v", err)
	}
}
