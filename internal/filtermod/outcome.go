// Package filtermod defines the contract a pipeline filter module must
// satisfy and the tagged-variant outcome a module's Handle call returns.
package filtermod

import "fmt"

// Kind enumerates the disjoint outcomes a module's Handle call can
// produce. Modules never panic or return raw errors to signal
// classification; they return one of these variants instead.
type Kind int

const (
	// KindOK means the module ran and contributed no classification verdict
	// (it may still have changed session.SpamScore).
	KindOK Kind = iota
	// KindSpam means the module classified the message as spam outright.
	KindSpam
	// KindVirus means the module detected a virus.
	KindVirus
	// KindDrop means the module wants the message silently swallowed.
	KindDrop
	// KindTimeout means the module's deadline elapsed before it returned.
	KindTimeout
	// KindFileTooBig means the module's max_size guard tripped.
	KindFileTooBig
	// KindError is any other module-internal failure.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindSpam:
		return "SPAM"
	case KindVirus:
		return "VIRUS"
	case KindDrop:
		return "DROP"
	case KindTimeout:
		return "TIMEOUT"
	case KindFileTooBig:
		return "FILETOOBIG"
	case KindError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Outcome is the value a FilterModule's Handle method returns to tell the
// pipeline what happened. Exactly one of the payload fields is meaningful,
// selected by Kind.
type Outcome struct {
	Kind Kind

	// Detail is the human-readable message appended to session spam
	// details (KindSpam) or the drop reason (KindDrop); the pipeline
	// passes it on as the run's result detail for either kind.
	Detail string

	// VirusLabel names the detected virus (KindVirus only).
	VirusLabel string

	// Err carries the underlying error for KindError/KindTimeout.
	Err error
}

func (o Outcome) Error() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return o.Kind.String()
}

// OK is the outcome for a module that ran normally and did not classify.
func OK() Outcome { return Outcome{Kind: KindOK} }

// Spam reports a spam classification with a human-readable reason.
func Spam(detail string) Outcome { return Outcome{Kind: KindSpam, Detail: detail} }

// Virus reports a virus classification with the scanner's label.
func Virus(label string) Outcome { return Outcome{Kind: KindVirus, VirusLabel: label} }

// Drop silently swallows the message.
func Drop(reason string) Outcome { return Outcome{Kind: KindDrop, Detail: reason} }

// Timeout reports that the module's deadline elapsed.
func Timeout(err error) Outcome { return Outcome{Kind: KindTimeout, Err: err} }

// FileTooBig reports that the module's max_size guard tripped.
func FileTooBig() Outcome { return Outcome{Kind: KindFileTooBig} }

// Error reports any other module-internal failure.
func Error(err error) Outcome { return Outcome{Kind: KindError, Err: err} }
