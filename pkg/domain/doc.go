/*
Package domain contains the core domain models for the devfleet control plane.

It defines the entities shared by the registry, port manager, and process
controller: Projects and their services, the port allocation table, global
settings, and the persisted registry Snapshot. This package is kept pure and
free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - Project: A registered development workload with up to two services.
  - ServiceConfig: One runnable unit (command, port, working directory).
  - PortAllocation: The two port ranges and the port -> project table.
  - Snapshot: The versioned aggregate persisted by the registry store.
  - ServiceStatus / ProjectStatus: Normalized supervisor status reporting.
*/
package domain
