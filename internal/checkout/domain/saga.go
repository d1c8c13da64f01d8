package domain

// SagaState is how far a checkout attempt got before it finished or
// started compensating.
type SagaState string

const (
	StateStarted     SagaState = "started"
	StateReserved    SagaState = "reserved"
	StatePlaced      SagaState = "placed"
	StatePaid        SagaState = "paid"
	StateConfirmed   SagaState = "confirmed"
	StateCompensated SagaState = "compensated"
)
