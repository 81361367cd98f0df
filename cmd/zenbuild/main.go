package main

import "github.com/zenwm/zenbuild/cmd/zenbuild/internal"

func main() {
	internal.Execute()
}
