// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package audit records every agent call of a deliberation run.

A Ledger is created per run. Each attempt, successful or not, is appended
as an immutable Step carrying the prompt and reply, their SHA-256 digests,
token counts, the estimated cost and a UTC timestamp. Timestamps never go
backwards and the running cost always equals the sum of step costs.

Finalize closes the ledger exactly once and returns a Log. The Log
serializes to a flat JSON document:

	{
	  "runId": "...",
	  "framework": "delphi",
	  "timestamp": "2026-01-01T00:00:00Z",
	  "input": {...},
	  "steps": [...],
	  "result": {...},
	  "metadata": {"totalDuration": 1234, "totalCost": 0.0123, "outcome": "converged"}
	}

Sinks decide where a finished log goes: FileSink, RedisSink and SQLSink.
*/
package audit
