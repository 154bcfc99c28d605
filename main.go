package main

import (
	"log"

	"github.com/sotramsa/enruta/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalf("enruta: %v", err)
	}
}
