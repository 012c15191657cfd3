// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

/*
Package validation wraps go-playground/validator v10 behind a process-wide
validator instance.

It is used for configuration structs and for the path and query parameters
of the events endpoint. Besides the built-in tags it registers:

  - identifier: letters, digits and _ . : - (job IDs, services, domains)

Errors come back as *RequestValidationError, which renders field messages
such as "Streams.BatchSize must be at least 1" and converts to the API's
VALIDATION_ERROR body with ToAPIError:

	type eventsRequest struct {
	    JobID        string `validate:"required,max=128,identifier"`
	    LastTokenSeq int64  `validate:"gte=0"`
	}

	if err := validation.ValidateStruct(&req); err != nil {
	    writeJSON(w, http.StatusBadRequest, err.ToAPIError())
	}
*/
package validation
