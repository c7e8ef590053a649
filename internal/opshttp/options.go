package opshttp

import (
	"net/http"

	"github.com/seaword/apicore/internal/probe"
)

type Options struct {
	Port         int
	Metrics      http.Handler
	EnablePprof  bool
	Health       probe.Probe
	Readiness    probe.Probe
	UseRecoverMW bool
	OnPanic      func() // optional callback when panics are recovered, e.g. to increment counters
}
