// Command hover builds a BM25 index over a Wikipedia dump and retrieves
// supporting documents for HoVer claims.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/cmd/hover/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
