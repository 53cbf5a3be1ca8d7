package main

import (
	"log"
	"os"

	"github.com/qnetlab/device-registry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
