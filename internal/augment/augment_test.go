package augment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexcite/corpuscore/internal/config"
	"github.com/lexcite/corpuscore/internal/retrieval"
)

func baseCfg() config.Config {
	return config.Config{
		MinFTSResults:            8,
		MinTopScore:              0.15,
		MaxSubqueries:            4,
		StrongBaselineMinSources: 5,
		StrongBaselineMinScore:   0.5,
		SmartQueryDecomposeEnabled: true,
	}
}

func candidates(n int) []retrieval.Candidate {
	out := make([]retrieval.Candidate, n)
	return out
}

func TestShouldTrigger_ForcedByEvalFlag(t *testing.T) {
	cfg := baseCfg()
	cfg.EvalForcePhase1 = true
	a := New(cfg, nil, nil)

	triggered := a.ShouldTrigger(Baseline{Candidates: candidates(20), TopScore: 0.9}, "what is the standard for obviousness")
	assert.True(t, triggered)
}

func TestShouldTrigger_StrongBaselineSuppresses(t *testing.T) {
	cfg := baseCfg()
	a := New(cfg, nil, nil)

	triggered := a.ShouldTrigger(Baseline{Candidates: candidates(10), TopScore: 0.9}, "what is the standard for obviousness")
	assert.False(t, triggered)
}

func TestShouldTrigger_LowResultCountTriggers(t *testing.T) {
	cfg := baseCfg()
	a := New(cfg, nil, nil)

	triggered := a.ShouldTrigger(Baseline{Candidates: candidates(2), TopScore: 0.9}, "what is the standard for obviousness")
	assert.True(t, triggered)
}

func TestShouldTrigger_LowTopScoreTriggers(t *testing.T) {
	cfg := baseCfg()
	a := New(cfg, nil, nil)

	triggered := a.ShouldTrigger(Baseline{Candidates: candidates(10), TopScore: 0.05}, "what is the standard for obviousness")
	assert.True(t, triggered)
}

func TestShouldTrigger_MultiIssueQueryTriggers(t *testing.T) {
	cfg := baseCfg()
	a := New(cfg, nil, nil)

	triggered := a.ShouldTrigger(Baseline{Candidates: candidates(10), TopScore: 0.3},
		"how does the court treat obviousness and whether secondary considerations apply")
	assert.True(t, triggered)
}

func TestDecompose_SplitsOnConjunctions(t *testing.T) {
	subs := decompose("what is Alice and how does Mayo apply", 4)
	assert.Len(t, subs, 2)
	assert.Equal(t, "what is Alice", subs[0])
	assert.Equal(t, "how does Mayo apply", subs[1])
}

func TestDecompose_CapsAtMaxSubqueries(t *testing.T) {
	subs := decompose("a and b and c and d and e", 2)
	assert.Len(t, subs, 2)
}

func TestDecompose_SingleIssueReturnsItself(t *testing.T) {
	subs := decompose("what is the Alice framework", 4)
	assert.Equal(t, []string{"what is the Alice framework"}, subs)
}
