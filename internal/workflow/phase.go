package workflow

import (
	"errors"
	"fmt"
)

// Phase identifies one step of the coaching workflow.
type Phase string

const (
	PhaseWelcome             Phase = "welcome"
	PhaseLifeWheelAnalysis   Phase = "lifewheel_analysis"
	PhaseMetaModelIntro      Phase = "metamodel_intro"
	PhaseMetaModelLevel1     Phase = "metamodel_level1"
	PhaseMetaModelLevel2     Phase = "metamodel_level2"
	PhaseMetaModelLevel3     Phase = "metamodel_level3"
	PhaseGeniusGate          Phase = "genius_gate"
	PhaseGeniusGatePractice  Phase = "genius_gate_practice"
	PhaseIncongruenceMapping Phase = "incongruence_mapping"
	PhaseClarityReflection   Phase = "clarity_reflection"
	PhaseJournalSetup        Phase = "journal_setup"
	PhaseCompletion          Phase = "completion"
)

// Phases lists every phase in workflow order.
var Phases = []Phase{
	PhaseWelcome,
	PhaseLifeWheelAnalysis,
	PhaseMetaModelIntro,
	PhaseMetaModelLevel1,
	PhaseMetaModelLevel2,
	PhaseMetaModelLevel3,
	PhaseGeniusGate,
	PhaseGeniusGatePractice,
	PhaseIncongruenceMapping,
	PhaseClarityReflection,
	PhaseJournalSetup,
	PhaseCompletion,
}

// ErrUnknownPhase is returned for identifiers outside the fixed phase set.
var ErrUnknownPhase = errors.New("unknown phase")

// MinExchanges is the number of answered analysis prompts a meta-model level requires.
const MinExchanges = 3

type rule int

const (
	ruleNone rule = iota
	ruleLifeWheel
	ruleExchanges
	ruleText
	ruleIncongruence
	ruleReflection
)

type phaseSpec struct {
	rule    rule
	level   int // meta-model level, 0 for other phases
	message string
}

var phaseTable = map[Phase]phaseSpec{
	PhaseWelcome:           {},
	PhaseLifeWheelAnalysis: {rule: ruleLifeWheel, message: "Bitte bewerte mindestens einen Bereich deines Lebensrads."},
	PhaseMetaModelIntro:    {},
	PhaseMetaModelLevel1: {rule: ruleExchanges, level: 1,
		message: "Beantworte mindestens drei Analysefragen, bevor du weitergehst."},
	PhaseMetaModelLevel2: {rule: ruleExchanges, level: 2,
		message: "Beantworte mindestens drei Analysefragen, bevor du weitergehst."},
	PhaseMetaModelLevel3: {rule: ruleExchanges, level: 3,
		message: "Beantworte mindestens drei Analysefragen, bevor du weitergehst."},
	PhaseGeniusGate:         {},
	PhaseGeniusGatePractice: {rule: ruleText, message: "Bitte halte fest, was dir in der Übung bewusst geworden ist."},
	PhaseIncongruenceMapping: {rule: ruleIncongruence,
		message: "Bitte beschreibe die Situation auf allen drei Ebenen: Denken, Fühlen und Handeln."},
	PhaseClarityReflection: {rule: ruleReflection, message: "Bitte notiere mindestens deine wichtigsten Erkenntnisse."},
	PhaseJournalSetup:      {},
	PhaseCompletion:        {},
}

// lifeWheelUnavailable is the corrective message when the life wheel cannot be read.
const lifeWheelUnavailable = "Dein Lebensrad konnte gerade nicht geladen werden. Bitte versuche es gleich noch einmal."

// ParsePhase converts an identifier into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := phaseTable[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
	return p, nil
}

// Index returns the position of p in the workflow order, or -1.
func (p Phase) Index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// MetaModelLevel returns the meta-model level practised in p, if any.
func (p Phase) MetaModelLevel() (int, bool) {
	spec := phaseTable[p]
	return spec.level, spec.level > 0
}
