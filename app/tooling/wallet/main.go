package main

import "github.com/omahs/ganache/app/tooling/wallet/cmd"

func main() {
	cmd.Execute()
}
