package main

import (
	"github.com/joho/godotenv"

	"ragstore/internal/cli"
)

func main() {
	_ = godotenv.Load()
	cli.Execute()
}
