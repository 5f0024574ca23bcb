package main

import "github.com/nestya/auth-service/cmd"

func main() {
	cmd.Execute()
}
