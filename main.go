package main

import "github.com/Zerofisher/canids/cmd"

func main() {
	cmd.Execute()
}
