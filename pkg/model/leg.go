package model

// Done reports whether both client and staff have signed.
func (l *LegSignatures) Done() bool {
	return l != nil && l.Client != "" && l.Staff != ""
}

// Leg returns the signatures recorded for leg, or nil.
func (s Signatures) Leg(leg Leg) *LegSignatures {
	if leg == Return {
		return s.Return
	}
	return s.Transfer
}

func (s Signatures) Done(leg Leg) bool {
	return s.Leg(leg).Done()
}

func (s Signatures) FullySigned() bool {
	return s.Done(Transfer) && s.Done(Return)
}

// DefaultLeg is the suggested target for the next signature: transfer until
// it is complete, then return. Fully signed tasks fall back to transfer.
// It is a suggestion only; either leg may be signed at any time.
func (s Signatures) DefaultLeg() Leg {
	if !s.Done(Transfer) {
		return Transfer
	}
	if !s.Done(Return) {
		return Return
	}
	return Transfer
}

func (t Task) DefaultLeg() Leg {
	return t.Signatures.DefaultLeg()
}
