// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package services provides suture.Service wrappers for components whose own
lifecycle is not Serve(ctx).

HTTP Server (HTTPServerService):
  - Runs ListenAndServe and calls Shutdown when the context ends
  - WithDrain runs first so open event streams end before Shutdown waits on them

Embedded NATS (EmbeddedNATSService):
  - Owns a started in-process NATS server and shuts it down with the tree
  - Returns suture.ErrTerminateSupervisorTree if the server stops by itself

Consumers, reclaimers, the broadcast manager and the Badger store implement
suture.Service directly and need no wrapper.
*/
package services
