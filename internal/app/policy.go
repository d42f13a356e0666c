package app

import "github.com/dkeye/Live/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(group string, conn core.ConnectionID) BackpressureAction
}

// SimplePolicy drops slow connections; the client reconnects and rejoins.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(string, core.ConnectionID) BackpressureAction {
	return KickMember
}

// LenientPolicy keeps slow connections and loses the frame.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(string, core.ConnectionID) BackpressureAction {
	return NoAction
}
