package main

import (
	"log"

	"github.com/openwash/fleetd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
