// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pmode implements the Processing Mode (P-Mode) configuration model of
the gateway: parties, processes, legs, services, agreements and message
partition channels, together with the exchange resolution and pull
validation logic that consumes them.

# Configuration Model

The parsed configuration is held in a [Configuration]: plain value structs
referenced by stable names, with lookup indexes built once at load time.
There are no cyclic object graphs; a [Process] references its legs and
parties by name, and accessors dereference through the indexes.

# Exchange Resolution

[LegResolver.Resolve] finds the leg governing a message from its identity
attributes (sender, receiver, service, action, optional agreement, optional
leg name). An exact agreement match outranks the no-agreement wildcard;
any residual ambiguity is a configuration error, never silently resolved.

# Pull Validation

[PullProcessValidator.Validate] certifies that the processes eligible for a
pull on an MPC contain exactly one well-formed candidate. The only passing
result is the singleton set {ONE_MATCHING_PROCESS}; every structural defect
contributes its own [PullProcessStatus] to the returned set.

# Loading

[Load] reads a YAML P-Mode document with environment variable expansion and
referential validation. XML/XSD P-Mode upload is handled outside this
library; the gateway core only consumes the typed accessors.
*/
package pmode
