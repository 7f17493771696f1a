package main

import (
	"log"
	"os"

	"duel/client"
	"duel/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) > 1 && os.Args[1] == "server" {
		if err := server.Run(os.Args[1:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := client.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
