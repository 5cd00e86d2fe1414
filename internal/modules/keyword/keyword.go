// Package keyword implements the phrase-matching FilterModule: three risk
// tiers of substring phrases, each worth a configurable weight, summed
// into a single score contribution.
package keyword

import (
	"context"
	"io"
	"strings"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

// Lists holds the three risk tiers of keyword phrases.
type Lists struct {
	HighRisk   []string
	MediumRisk []string
	LowRisk    []string
}

// DefaultLists returns the built-in phrase lists used when a keyword
// module's config doesn't override them.
func DefaultLists() Lists {
	return Lists{
		HighRisk: []string{
			"free money", "get rich", "make money fast", "guaranteed income",
			"no risk", "act now", "limited time", "urgent", "congratulations",
			"you have won", "lottery", "inheritance", "nigerian prince",
			"viagra", "cialis", "pharmacy", "prescription",
		},
		MediumRisk: []string{
			"click here", "visit our website", "special offer", "discount",
			"save money", "credit", "loan", "mortgage", "insurance",
			"weight loss", "diet", "lose weight", "earn extra",
		},
		LowRisk: []string{
			"free", "offer", "deal", "sale", "promotion", "bonus",
			"gift", "prize", "winner", "selected", "opportunity",
		},
	}
}

// Weights scales each tier's per-match contribution.
type Weights struct {
	HighRisk   float64
	MediumRisk float64
	LowRisk    float64
}

// DefaultWeights returns the built-in per-tier weights used when a
// keyword module's config doesn't override them.
func DefaultWeights() Weights {
	return Weights{HighRisk: 9.0, MediumRisk: 4.0, LowRisk: 2.0}
}

// Module is a keyword-phrase FilterModule.
type Module struct {
	name    string
	lists   Lists
	weights Weights
}

// New constructs a keyword Module. Zero-value Lists/Weights fall back to
// the package defaults.
func New(name string, lists Lists, weights Weights) *Module {
	if len(lists.HighRisk) == 0 && len(lists.MediumRisk) == 0 && len(lists.LowRisk) == 0 {
		lists = DefaultLists()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Module{name: name, lists: lists, weights: weights}
}

func (m *Module) Name() string { return m.name }

func (m *Module) Handle(_ context.Context, sess *session.Session) filtermod.Outcome {
	subject := sess.MIME.HeaderField("Subject")
	body, err := readBody(sess)
	if err != nil {
		return filtermod.Error(err)
	}

	text := strings.ToLower(subject + " " + body)
	var score float64
	var hits []string

	for _, kw := range m.lists.HighRisk {
		if strings.Contains(text, kw) {
			score += m.weights.HighRisk
			hits = append(hits, kw)
		}
	}
	for _, kw := range m.lists.MediumRisk {
		if strings.Contains(text, kw) {
			score += m.weights.MediumRisk
			hits = append(hits, kw)
		}
	}
	for _, kw := range m.lists.LowRisk {
		if strings.Contains(text, kw) {
			score += m.weights.LowRisk
			hits = append(hits, kw)
		}
	}

	if score == 0 {
		return filtermod.OK()
	}

	// score accumulates magnitude per matched phrase; negate it into the
	// session accumulator, where more-negative means more-spammy.
	sess.AddScore(-score, m.name+": "+strings.Join(hits, ", "))
	return filtermod.OK()
}

// maxScanBytes caps how much body we read into memory for phrase
// matching; a spam phrase that only appears past this point is missed,
// which is an acceptable tradeoff against holding huge bodies in RAM.
const maxScanBytes = 256 * 1024

func readBody(sess *session.Session) (string, error) {
	rc, err := sess.MIME.Body()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxScanBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
