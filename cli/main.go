package main

import "github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/cli/cmd"

func main() {
	cmd.Execute()
}
