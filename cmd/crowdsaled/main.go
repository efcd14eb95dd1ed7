package main

import (
	"log"

	"tokensale/services/crowdsaled"
)

func main() {
	if err := crowdsaled.Main(); err != nil {
		log.Fatalf("crowdsaled: %v", err)
	}
}
