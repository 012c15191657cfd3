// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package supervisor provides process supervision for Herald using suture v4.

Every long-running loop is a suture.Service placed in one layer of the tree:

	RootSupervisor ("herald")
	├── DataSupervisor ("data-layer")
	│   ├── BadgerStore value-log GC (state.backend=badger)
	│   └── EmbeddedNATSService (fanout.nats.embedded)
	├── IngestSupervisor ("ingest-layer")
	│   ├── Consumer per (domain, shard)
	│   └── Reclaimer per domain
	├── MessagingSupervisor ("messaging-layer")
	│   └── broadcast.Manager
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed consumer is restarted with backoff inside the ingest layer while
open event streams keep being served.

Supervisor events (start, failure, backoff, stop) are logged through the
sutureslog adapter over the zerolog-backed slog handler:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddIngestServices(pool.Services())
	tree.AddMessagingService(manager)
	tree.AddAPIService(services.NewHTTPServerService(server, timeout, services.WithDrain(manager.Shutdown)))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor tree stopped")
	}

After Serve returns, UnstoppedServiceReport lists services that ignored the
shutdown timeout.
*/
package supervisor
