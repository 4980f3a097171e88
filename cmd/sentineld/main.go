// sentineld is the integrity monitoring daemon.
// Recomputes digests of baselined resources on a fixed interval,
// escalates on mismatch, and keeps a tamper-evident audit trail.
package main

import "github.com/rstanik/sentineld/internal/cli"

func main() {
	cli.Execute()
}
