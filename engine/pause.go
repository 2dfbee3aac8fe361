package engine

import (
	"sort"
	"sync"
)

// Flow labels accepted by the pause guard.
const (
	FlowDeposit   = "deposit"
	FlowMint      = "mint"
	FlowBurn      = "burn"
	FlowRedeem    = "redeem"
	FlowLiquidate = "liquidate"
)

// PauseView reports whether a named flow is administratively halted.
type PauseView interface {
	IsPaused(flow string) bool
}

// Guard returns ErrPaused when the view marks the flow as halted. A nil
// view means nothing is ever paused.
func Guard(p PauseView, flow string) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrPaused
	}
	return nil
}

// PauseSwitch is a concurrency-safe PauseView with operator toggles.
type PauseSwitch struct {
	mu    sync.RWMutex
	flows map[string]bool
}

func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{flows: make(map[string]bool)}
}

func (p *PauseSwitch) SetPaused(flow string, paused bool) {
	if p == nil || flow == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.flows[flow] = true
		return
	}
	delete(p.flows, flow)
}

func (p *PauseSwitch) IsPaused(flow string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.flows[flow]
}

// Snapshot returns the currently paused flows.
func (p *PauseSwitch) Snapshot() []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.flows))
	for flow, paused := range p.flows {
		if paused {
			out = append(out, flow)
		}
	}
	sort.Strings(out)
	return out
}
