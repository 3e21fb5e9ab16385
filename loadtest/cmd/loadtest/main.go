// Command loadtest drives simulated users against a lobby server.
//
// Usage:
//
//	loadtest saturate [options]   open N idle connections and hold them
//	loadtest chat [options]       join N users and measure message fan-out
//
// Each simulated user sends its own X-Forwarded-For address. Run the server
// with TRUST_PROXY=true, otherwise every user shares the loopback address and
// the per-IP connect limit rejects all but the first few.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "saturate":
		runSaturate(os.Args[2:])
	case "chat":
		runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    Open N connections that sit at the join prompt")
	fmt.Println("  chat        Join N users, exchange messages, leave")
	fmt.Println()
	fmt.Println("The server must run with TRUST_PROXY=true so each user gets its own address.")
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

// fakeIP returns a distinct private address for client i, sent as
// X-Forwarded-For so per-IP limits apply per simulated user on a server
// that trusts proxy headers.
func fakeIP(i int) string {
	return fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
}
