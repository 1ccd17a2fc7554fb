package model

import "fmt"

// Disposition is the outcome code attached to every response message.
type Disposition string

const (
	DispositionAccepted Disposition = "Accepted"
	DispositionRejected Disposition = "Rejected"
	DispositionDisputed Disposition = "Disputed"
)

// String implements fmt.Stringer.
func (d Disposition) String() string { return string(d) }

// Validate fails with ErrConfiguration for values outside the vocabulary.
func (d Disposition) Validate() error {
	switch d {
	case DispositionAccepted, DispositionRejected, DispositionDisputed:
		return nil
	}
	return fmt.Errorf("%w: disposition %q", ErrConfiguration, string(d))
}
