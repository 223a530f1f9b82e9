// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package goas4gateway implements the exchange-resolution, delivery-state
and pull-coordination core of an AS4 messaging gateway.

# Overview

go-as4-gateway is the routing and reliability engine sitting between a
backend connector and the AS4 wire protocol. It decides which processing
mode governs a submitted message, validates the message against that
mode, tracks its delivery state across retries, and coordinates pull
exchanges so that a message offered on a partition channel is claimed by
exactly one puller, even when pullers run on independent cluster nodes.

# Specifications Implemented

This library follows the relevant parts of:

  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/

# Package Structure

The library is organized into the following packages:

	github.com/sirosfoundation/go-as4-gateway/pkg/ebms        - Submission model and ebMS error taxonomy
	github.com/sirosfoundation/go-as4-gateway/pkg/pmode       - Processing mode configuration and resolution
	github.com/sirosfoundation/go-as4-gateway/pkg/reliability - Retry math, statuses and claim classification
	github.com/sirosfoundation/go-as4-gateway/pkg/signal      - PullRequest signal building and parsing
	github.com/sirosfoundation/go-as4-gateway/pkg/compression - GZIP payload compression
	github.com/sirosfoundation/go-as4-gateway/pkg/transport   - HTTPS transport with TLS 1.2/1.3

Wiring of the pipeline (submission, pull coordination, sending, storage
backends) lives under internal/ and is assembled from configuration; see
examples/basic for a complete in-memory gateway.

# Security

Envelope signing, encryption and receipt NRR verification are not part
of this module. The submission pipeline accepts an EnvelopeBuilder and
the senders accept verifier collaborators so a security layer can be
plugged in without touching the core.
*/
package goas4gateway
