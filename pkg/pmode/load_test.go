package pmode

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testDocument = `
party: blue_gw
parties:
  - name: blue_gw
    identifiers:
      - value: urn:party:blue
    endpoint: https://blue.example.com/as4
  - name: red_gw
    identifiers:
      - value: urn:party:red
    endpoint: ${RED_GW_ENDPOINT}
services:
  - name: testService
    value: bdx:noprocess
    type: tc1
legs:
  - name: pullLeg
    service: testService
    action: TC2Leg1
    receptionAwareness:
      retryCount: 3
      retryTimeout: 10m
processes:
  - name: tc2Process
    mep: oneway
    binding: pull
    initiatorRole:
      name: initiator
      value: urn:role:initiator
    responderRole:
      name: responder
      value: urn:role:responder
    initiators: [red_gw]
    responders: [blue_gw]
    legs: [pullLeg]
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(testDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Party != "blue_gw" {
		t.Errorf("expected local party blue_gw, got %s", cfg.Party)
	}

	leg, err := cfg.GetLegConfiguration("pullLeg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if leg.ReceptionAwareness.RetryCount != 3 {
		t.Errorf("expected retryCount 3, got %d", leg.ReceptionAwareness.RetryCount)
	}
	if leg.ReceptionAwareness.RetryTimeout != 10*time.Minute {
		t.Errorf("expected retryTimeout 10m, got %v", leg.ReceptionAwareness.RetryTimeout)
	}

	// Shorthand mep/binding values expand to the ebMS3 URIs.
	procs := cfg.FindPullProcessesByMpc(DefaultMpc)
	if len(procs) != 1 {
		t.Fatalf("expected one pull process on the default mpc, got %d", len(procs))
	}
	if procs[0].Mep != MepOneWay || procs[0].MepBinding != BindingPull {
		t.Errorf("shorthand not expanded: mep=%s binding=%s", procs[0].Mep, procs[0].MepBinding)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RED_GW_ENDPOINT", "https://red.example.com/as4")

	path := filepath.Join(t.TempDir(), "pmodes.yaml")
	if err := os.WriteFile(path, []byte(testDocument), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	party, err := cfg.GetParty("red_gw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if party.Endpoint != "https://red.example.com/as4" {
		t.Errorf("environment not expanded: %s", party.Endpoint)
	}
}

func TestParse_ReferentialIntegrity(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown leg",
			doc: `
parties:
  - name: a
  - name: b
services:
  - name: s
processes:
  - name: p
    legs: [missing]
`,
		},
		{
			name: "unknown party",
			doc: `
parties:
  - name: a
services:
  - name: s
legs:
  - name: l
    service: s
processes:
  - name: p
    initiators: [ghost]
    legs: [l]
`,
		},
		{
			name: "negative retry count",
			doc: `
parties:
  - name: a
services:
  - name: s
legs:
  - name: l
    service: s
    receptionAwareness:
      retryCount: -1
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLegConfiguration_MpcFor(t *testing.T) {
	leg := &LegConfiguration{
		Name:       "leg1",
		DefaultMpc: "urn:mpc:standard",
		MpcOverrides: map[string]string{
			"red_gw": "urn:mpc:red",
		},
	}

	if got := leg.MpcFor("red_gw"); got != "urn:mpc:red" {
		t.Errorf("expected override, got %s", got)
	}
	if got := leg.MpcFor("green_gw"); got != "urn:mpc:standard" {
		t.Errorf("expected leg default, got %s", got)
	}

	bare := &LegConfiguration{Name: "bare"}
	if got := bare.MpcFor("anyone"); got != DefaultMpc {
		t.Errorf("expected protocol default, got %s", got)
	}
}
