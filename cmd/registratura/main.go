package main

import (
	"os"

	"github.com/parishworks/registratura/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
