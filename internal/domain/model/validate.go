package model

// Validate checks the envelope and its payload against the producer contract.
// Seq and Timestamp are not checked because the bus assigns them.
func (e Event) Validate() error {
	if blank(e.Topic) {
		return invalid("topic", "required")
	}
	if !e.Kind.Valid() {
		return invalid("type", "unknown kind "+string(e.Kind))
	}
	p := e.Payload()
	if p == nil {
		return invalid("data", "missing "+string(e.Kind)+" payload")
	}
	if n := e.payloadCount(); n != 1 {
		return invalid("data", "exactly one payload must be set")
	}
	return p.validate()
}

func (e Event) payloadCount() int {
	n := 0
	for _, set := range []bool{
		e.Score != nil, e.Episode != nil, e.Prediction != nil,
		e.Leaderboard != nil, e.Friend != nil, e.Stats != nil,
	} {
		if set {
			n++
		}
	}
	return n
}
