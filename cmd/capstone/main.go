package main

import (
	"fmt"
	"os"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "capstone: %v\n", err)
		os.Exit(1)
	}
}
