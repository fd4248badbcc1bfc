package main

import "github.com/rustyrazorblade/edl/cmd"

func main() {
	cmd.Execute()
}
