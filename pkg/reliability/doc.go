// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability defines the delivery-state machine of the gateway and
the pure retry arithmetic driving it: message statuses, attempt budgets,
next-attempt scheduling, lock staleness and claim classification.

Everything in this package is side-effect free. The services under
internal/ apply these rules against the storage layer; the rules themselves
never touch storage, clocks are always passed in.

# State Machine

Push delivery:

	SEND_ENQUEUED -> WAITING_FOR_RECEIPT <-> WAITING_FOR_RETRY -> {SEND_FAILURE | RECEIVED}

Pull delivery:

	READY_TO_PULL <-> WAITING_FOR_RECEIPT -> {SEND_FAILURE | RECEIVED}

Terminal states additionally include ACKNOWLEDGED, ACKNOWLEDGED_WITH_WARNING,
DELETED and DOWNLOADED.

# Attempt Budget

A message exhausts its retries either by attempt count or by wall clock,
whichever comes first: see [HasAttemptsLeft]. The attempt budget counts the
original attempt in addition to the configured retries, so a retry count of
3 yields a maximum of 4 send attempts.
*/
package reliability
