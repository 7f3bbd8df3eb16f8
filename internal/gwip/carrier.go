package gwip

// Carrier types and modulations recognized by the scheduler.
const (
	CarrierQuantum   = "quantum"
	CarrierOptical   = "optical"
	CarrierRadio     = "radio"
	CarrierSimulated = "simulated"

	ModQKDPhase = "qkd_phase"
	ModWDM      = "wdm"
	ModAM       = "am"
	ModSimPhase = "sim_phase"
)

// CarrierProfile is a selectable transmission medium with its nominal
// coherence.
type CarrierProfile struct {
	Type      string
	Coherence float64
	Freq      float64
}

// Selection is the carrier scheduler's verdict for one outbound payload.
type Selection struct {
	Carrier    CarrierProfile
	Modulation string
	Score      float64
}

type intentPolicy struct {
	modulation string
}

// policyMatrix maps transmission intent to modulation. Carrier choice is
// scored separately against the fidelity goal.
var policyMatrix = map[string]intentPolicy{
	"secure":         {modulation: ModQKDPhase},
	"high_fidelity":  {modulation: ModWDM},
	"dream_mutation": {modulation: ModSimPhase},
	"broadcast":      {modulation: ModAM},
	"default":        {modulation: ModSimPhase},
}

var carrierProfiles = []CarrierProfile{
	{Type: CarrierQuantum, Coherence: 0.98, Freq: 5.5e14},
	{Type: CarrierOptical, Coherence: 0.90, Freq: 1.93e14},
	{Type: CarrierRadio, Coherence: 0.75, Freq: 9.15e8},
	{Type: CarrierSimulated, Coherence: 0.60, Freq: 1.0e3},
}

var fidelityTargets = map[string]float64{
	"precise":  0.90,
	"symbolic": 0.60,
	"balanced": 0.75,
}

// CarrierContext carries the caller's transmission preferences.
type CarrierContext struct {
	Intent       string
	QKDRequired  bool
	GoalFidelity string
}

// SelectCarrier picks the carrier and modulation for one transmission.
// QKD-required traffic always rides the quantum carrier under qkd_phase
// modulation; everything else is scored by how closely the carrier's nominal
// coherence matches the fidelity goal.
func SelectCarrier(ctx CarrierContext) Selection {
	if ctx.QKDRequired {
		return Selection{
			Carrier:    carrierProfiles[0],
			Modulation: ModQKDPhase,
			Score:      1,
		}
	}

	target, ok := fidelityTargets[ctx.GoalFidelity]
	if !ok {
		target = fidelityTargets["balanced"]
	}

	best := carrierProfiles[0]
	bestScore := -1.0
	for _, c := range carrierProfiles {
		score := 1 - abs(target-c.Coherence)
		if score > bestScore {
			best = c
			bestScore = score
		}
	}

	policy, ok := policyMatrix[ctx.Intent]
	if !ok {
		policy = policyMatrix["default"]
	}

	return Selection{Carrier: best, Modulation: policy.modulation, Score: bestScore}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
