package main

import "github.com/iovation/launchkey-sdk-go/cmd"

func main() {
	cmd.Execute()
}
