package types

type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)
