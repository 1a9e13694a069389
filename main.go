package main

import "github.com/Mohsinsiddi/feeledger/cmd"

func main() {
	cmd.Execute()
}
