// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ebms defines the ebMS3/AS4 value types shared across the gateway:
the submission describing one outbound business message, message properties
and payload parts, and the error taxonomy.

# Error Taxonomy

Four error families cover every failure mode of the core:

  - [ProtocolError]: carries an ebMS error code (EBMS:0001, EBMS:0005, ...)
    and is propagated to the remote peer when sending, logged when receiving
  - [ConfigurationError]: ambiguous or missing PMode resolution and pull
    validation failures; fatal for one submission, never for the gateway
  - [DuplicateMessageError]: resubmission of a known messageId, non-retryable
  - [MessageNotFoundError]: terminal, surfaced to the caller

Connection-class protocol errors (EBMS:0005) are special: during pull they
are recovered locally through backoff rather than surfaced. Use
[IsConnectionFailure] to classify.
*/
package ebms
