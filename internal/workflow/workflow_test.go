package workflow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/persona"
)

func statuses(steps []domain.Step) []domain.Status {
	out := make([]domain.Status, len(steps))
	for i, s := range steps {
		out[i] = s.Status
	}
	return out
}

// ============================================================================
// Template Tests
// ============================================================================

func TestTemplate_FixedContent(t *testing.T) {
	steps := Template()
	require.Len(t, steps, StepCount)

	want := []struct{ id, persona, title, estimate string }{
		{"1", "Alex", "Requirements Analysis", "2 min"},
		{"2", "Morgan", "Code Generation", "5 min"},
		{"3", "Jordan", "Code Review", "3 min"},
		{"4", "Riley", "Quality Assurance", "4 min"},
		{"5", "Casey", "Deployment", "2 min"},
	}
	for i, w := range want {
		require.Equal(t, w.id, steps[i].ID)
		require.Equal(t, w.persona, steps[i].PersonaName)
		require.Equal(t, w.title, steps[i].Title)
		require.Equal(t, w.estimate, steps[i].EstimatedTime)
		require.NotEmpty(t, steps[i].Description)
		require.Equal(t, domain.StatusPending, steps[i].Status)
	}
}

func TestTemplate_StepOwnersArePersonas(t *testing.T) {
	for i, step := range Template() {
		p, err := persona.At(i)
		require.NoError(t, err)
		require.Equal(t, p.ShortName, step.PersonaName, "step %d", i)
	}
}

func TestTemplate_ReturnsClone(t *testing.T) {
	a := Template()
	a[0].Title = "changed"
	require.Equal(t, "Requirements Analysis", Template()[0].Title)
}

func TestParseTemplate_Rejects(t *testing.T) {
	tests := map[string]string{
		"not yaml":      "steps: [",
		"too few steps": "steps:\n  - {id: '1', persona: Alex, title: T}\n",
		"missing title": `steps:
  - {id: '1', persona: A}
  - {id: '2', persona: B, title: T}
  - {id: '3', persona: C, title: T}
  - {id: '4', persona: D, title: T}
  - {id: '5', persona: E, title: T}
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseTemplate([]byte(doc))
			require.Error(t, err)
		})
	}
}

// ============================================================================
// Transition Tests
// ============================================================================

func TestInitial(t *testing.T) {
	s := Initial()
	require.Equal(t, 0, s.CurrentStep)
	require.Equal(t, 20, s.Progress)
	require.Equal(t, domain.StatusInProgress, s.Status)
	require.Equal(t, []domain.Status{
		domain.StatusInProgress, domain.StatusPending, domain.StatusPending, domain.StatusPending, domain.StatusPending,
	}, statuses(s.Steps))
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name         string
		toIndex      int
		progress     int
		wantStatuses []domain.Status
		wantCurrent  int
		wantProgress int
		wantStatus   domain.Status
	}{
		{
			name:    "to build step",
			toIndex: 1, progress: 40,
			wantStatuses: []domain.Status{domain.StatusCompleted, domain.StatusInProgress, domain.StatusPending, domain.StatusPending, domain.StatusPending},
			wantCurrent:  1, wantProgress: 40, wantStatus: domain.StatusInProgress,
		},
		{
			name:    "to last step",
			toIndex: 4, progress: 100,
			wantStatuses: []domain.Status{domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted, domain.StatusInProgress},
			wantCurrent:  4, wantProgress: 100, wantStatus: domain.StatusInProgress,
		},
		{
			name:    "past the end completes",
			toIndex: 5, progress: 80,
			wantStatuses: []domain.Status{domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted},
			wantCurrent:  4, wantProgress: 100, wantStatus: domain.StatusCompleted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(Initial().Steps, tt.toIndex, tt.progress)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.wantStatuses, statuses(got.Steps)); diff != "" {
				t.Fatalf("step statuses mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, tt.wantCurrent, got.CurrentStep)
			require.Equal(t, tt.wantProgress, got.Progress)
			require.Equal(t, tt.wantStatus, got.Status)
		})
	}
}

func TestAdvance_DoesNotMutateInput(t *testing.T) {
	in := Initial().Steps
	before := Template()
	before[0].Status = domain.StatusInProgress

	_, err := Advance(in, 3, 80)
	require.NoError(t, err)
	if diff := cmp.Diff(before, in); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestAdvance_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		steps    []domain.Step
		toIndex  int
		progress int
	}{
		{"no steps", nil, 1, 40},
		{"negative index", Template(), -1, 40},
		{"progress above 100", Template(), 1, 101},
		{"negative progress", Template(), 1, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Advance(tt.steps, tt.toIndex, tt.progress)
			require.ErrorIs(t, err, ErrInvalidAdvance)
		})
	}
}

func TestProgressFor(t *testing.T) {
	require.Equal(t, 0, ProgressFor(-1))
	require.Equal(t, 20, ProgressFor(0))
	require.Equal(t, 40, ProgressFor(1))
	require.Equal(t, 100, ProgressFor(4))
	require.Equal(t, 100, ProgressFor(9))
}

func TestMarkError(t *testing.T) {
	steps, err := MarkError(Initial().Steps, 0)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, steps[0].Status)
	require.Equal(t, domain.StatusPending, steps[1].Status)

	_, err = MarkError(steps, 7)
	require.ErrorIs(t, err, ErrInvalidAdvance)
}

func TestCheck(t *testing.T) {
	ok := domain.Workflow{Steps: Initial().Steps, CurrentStep: 0, Progress: 20}
	require.NoError(t, Check(ok))

	broken := ok.Clone()
	broken.Steps[2].Status = domain.StatusCompleted
	require.Error(t, Check(broken))

	outOfRange := ok.Clone()
	outOfRange.CurrentStep = 5
	require.Error(t, Check(outOfRange))
}

// ============================================================================
// Property Tests
// ============================================================================

// Any sequence of forward advances along the schedule keeps the ordering
// invariant and never lowers progress.
func TestAdvance_PreservesInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		state := Initial()
		n := rapid.IntRange(1, 8).Draw(rt, "advances")

		for i := 0; i < n; i++ {
			toIndex := rapid.IntRange(state.CurrentStep, StepCount+1).Draw(rt, "toIndex")
			next, err := Advance(state.Steps, toIndex, ProgressFor(toIndex))
			if err != nil {
				rt.Fatalf("advance to %d: %v", toIndex, err)
			}
			if next.Progress < state.Progress {
				rt.Fatalf("progress decreased from %d to %d", state.Progress, next.Progress)
			}
			wf := domain.Workflow{Steps: next.Steps, CurrentStep: next.CurrentStep, Progress: next.Progress}
			if err := Check(wf); err != nil {
				rt.Fatalf("invariant broken after advance to %d: %v", toIndex, err)
			}
			if len(next.Steps) != StepCount {
				rt.Fatalf("step count changed to %d", len(next.Steps))
			}
			state = next
		}
	})
}
