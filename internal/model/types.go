package model

// Address identifies an account on the host ledger. Addresses are opaque
// strings; equality is the only operation the system performs on them.
type Address string

// ZeroAddress is the invalid, unset address. Operations reject it wherever
// an address parameter is required.
const ZeroAddress Address = ""

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == ZeroAddress }

// PayMethod labels which reserve currency a buy/sell operation settled in.
type PayMethod string

const (
	MethodNative PayMethod = "native"
	MethodStable PayMethod = "stable"
)
