// Command agentgate runs the local AI coding-agent gateway: it supervises
// agent subprocesses, multiplexes their event streams to browser clients,
// enforces tool permission policy, and drives the autonomous loop
// orchestrator over a workspace's user stories.
package main

import (
	"github.com/agentgate/agentgate/cmd/agentgate/cmd"
)

func main() {
	cmd.Execute()
}
