// rrctl plays Recovery Room encounters from the terminal.
package main

import "github.com/ashureev/recovery-room/internal/cli"

func main() {
	cli.Execute()
}
