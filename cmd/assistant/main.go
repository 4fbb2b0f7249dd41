package main

import (
	"os"

	"github.com/AIDEN1973/SAAS-sub009/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
