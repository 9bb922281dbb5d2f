package main

import (
	"github.com/LeeDigitalWorks/zapreg/cmd"
)

func main() {
	cmd.Execute()
}
