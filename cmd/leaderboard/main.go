package main

import "github.com/hackfest/leaderboard/cmd/leaderboard/cmd"

func main() {
	cmd.Execute()
}
