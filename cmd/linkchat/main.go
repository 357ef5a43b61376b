package main

import "github.com/rudransh-shrivastava/linkchat/internal/cli"

func main() {
	cli.Execute()
}
