// Command coreboot is example wiring for the core: it constructs the
// capability table, the message router, the process table, a scheduler,
// the signal and wait subsystems, and the service supervisor, then runs
// the static boot sequence over the embedded default service table.
// There are no flags and no files read at runtime.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/splax-s/splax-os-sub001/internal/cap"
	"github.com/splax-s/splax-os-sub001/internal/corelog"
	"github.com/splax-s/splax-os-sub001/internal/coretypes"
	"github.com/splax-s/splax-os-sub001/internal/linkrouter"
	"github.com/splax-s/splax-os-sub001/internal/proc"
	"github.com/splax-s/splax-os-sub001/internal/sched"
	"github.com/splax-s/splax-os-sub001/internal/signal"
	"github.com/splax-s/splax-os-sub001/internal/supervisor"
	"github.com/splax-s/splax-os-sub001/internal/svcconfig"
	"github.com/splax-s/splax-os-sub001/internal/wait"
)

// defaultServiceTable is the static core service set with its dependency
// DAG; the layering mirrors the documented boot order (storage/dev/gpu
// first, then canvas/net, then the outer services).
const defaultServiceTable = `
services:
  - name: storage
    operations: [read, write, grant]
    restart: always
    max_restarts: 5
  - name: dev
    operations: [read, write, grant]
    restart: always
    max_restarts: 5
  - name: gpu
    operations: [read, write]
    restart: always
    max_restarts: 5
  - name: canvas
    depends_on: [gpu, dev]
    operations: [read, write]
    restart: on-failure
    max_restarts: 3
  - name: net
    depends_on: [storage, dev]
    operations: [read, write, grant]
    restart: always
    max_restarts: 5
  - name: pkg
    depends_on: [storage, net]
    operations: [read, write]
    restart: on-failure
    max_restarts: 3
  - name: gate
    depends_on: [net]
    operations: [read, write]
    restart: on-failure
    max_restarts: 3
  - name: atlas
    depends_on: [canvas]
    operations: [read, write]
    restart: on-failure
    max_restarts: 3
`

func main() {
	corelog.Init(corelog.Config{Level: corelog.InfoLevel})
	logger := corelog.WithComponent("coreboot")

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		logger.Fatal().Err(err).Msg("reading boot entropy")
	}

	caps := cap.NewTable(secret)
	router := linkrouter.NewRouter()
	procs := proc.NewManager()
	scheduler := sched.NewRoundRobin()
	signals := signal.NewManager(scheduler)
	waits := wait.NewManager(scheduler, signals)
	procs.SetCollaborators(waits, scheduler)

	configs, err := svcconfig.Parse([]byte(defaultServiceTable))
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing service table")
	}

	sup := supervisor.New(procs, caps, router)

	// Stand in for the services themselves: as each one is spawned, its
	// signal/wait state is registered and it reports ready, the way a
	// real service would over its kernel channel.
	quit := make(chan struct{})
	go func() {
		ready := make(map[string]bool)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			for _, info := range sup.ListServices() {
				if info.State == supervisor.StateStarting && !ready[info.Name] {
					signals.InitProcess(info.PID)
					waits.AddChild(coretypes.InitPID, info.PID)
					if err := sup.ServiceReady(info.Name); err == nil {
						ready[info.Name] = true
					}
				}
			}
		}
	}()

	result, err := sup.BootAll(configs, nil, 5*time.Second)
	close(quit)
	if err != nil {
		logger.Fatal().Err(err).Msg("boot failed")
	}

	for _, info := range sup.ListServices() {
		logger.Info().
			Str("service", info.Name).
			Uint64("pid", uint64(info.PID)).
			Str("state", info.State.String()).
			Msg("service state")
	}

	if len(result.Failed) > 0 {
		fmt.Fprintf(os.Stderr, "boot completed with %d failed services\n", len(result.Failed))
		os.Exit(1)
	}
	logger.Info().Int("services", len(result.Started)).Msg("core up")
}
