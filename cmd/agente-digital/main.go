package main

import (
	"log"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/appbootstrap"
)

func main() {
	if err := appbootstrap.Run(); err != nil {
		log.Fatalf("agente-digital: %v", err)
	}
}
