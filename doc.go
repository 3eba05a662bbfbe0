/*
Package devfleet orchestrates local development projects: it keeps a durable
registry of projects, allocates conflict-free ports from dedicated frontend
and backend ranges, and drives a pm2-backed process supervisor to start,
stop, and inspect each project's services.

# Concept

Every project has up to two services, a frontend and a backend, each pinned
to a port allocated from its role's range. The registry persists the whole
fleet as one JSON snapshot with atomic writes and rotating backups, so the
port table and project metadata survive restarts and crashes. The process
controller maps registry state onto supervisor units and normalizes the
supervisor's status reporting into a small set of lifecycle states.

# Key Features

  - Durable registry: atomic snapshot writes, rotating backups, restore.
  - Port manager: disjoint frontend/backend ranges, live bind probing,
    allocation that never hands out the same port twice.
  - Process control: start/stop/restart per service or per fleet, log
    tailing, pm2 ecosystem file generation.
  - Host surfaces: cobra CLI, chi HTTP API with an SSE status stream, and
    an MCP tool layer for coding agents.

# Usage

Assemble a Fleet from a config and use its Registry and Controller:

	package main

	import (
		"context"
		"log"

		"github.com/devfleet/devfleet"
	)

	func main() {
		fleet, err := devfleet.New(nil)
		if err != nil {
			log.Fatal(err)
		}
		defer fleet.Close()

		ctx := context.Background()
		p, err := fleet.Register(ctx, devfleet.RegisterInput{
			Name:            "my-blog",
			Path:            "/home/dev/my-blog",
			FrontendCommand: "npm run dev",
			BackendCommand:  "uvicorn main:app",
		})
		if err != nil {
			log.Fatal(err)
		}

		if _, err := fleet.Start(ctx, p.Name, nil); err != nil {
			log.Fatal(err)
		}
	}
*/
package devfleet
