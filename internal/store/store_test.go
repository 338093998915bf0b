package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

var baseTime = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func commitObs(t *testing.T, sha string, withFiles bool) *evidence.CommitObservation {
	t.Helper()
	when := baseTime
	obs := &evidence.CommitObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindCommit, "octo/repo", sha),
			OriginalWhen: &when,
			OriginalWho:  &evidence.Actor{Login: "mallory"},
			ObservedWhen: baseTime.Add(time.Hour),
			ObservedBy:   evidence.SourceGitHub,
			Repository:   evidence.NewRepository("octo", "repo"),
			Verification: evidence.Verification{Source: evidence.SourceGitHub, URL: "u", QueriedAt: baseTime},
		},
		ObservationType: evidence.KindCommit,
		SHA:             sha,
		Message:         "add build hook",
		Author:          evidence.CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: when},
		Committer:       evidence.CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: when},
	}
	if withFiles {
		obs.Files = []evidence.FileChange{{Filename: "build.sh", Status: "modified", Additions: 3}}
	}
	require.NoError(t, obs.Validate())
	return obs
}

func pushEvent(t *testing.T, actor string, when time.Time) *evidence.PushEvent {
	t.Helper()
	ev := &evidence.PushEvent{
		EventBase: evidence.EventBase{
			EvidenceID:   evidence.ComputeID(evidence.KindPush, "octo/repo", when.Format(time.RFC3339), actor),
			When:         when,
			Who:          evidence.Actor{Login: actor},
			What:         actor + " pushed to main",
			Repository:   evidence.NewRepository("octo", "repo"),
			Verification: evidence.Verification{Source: evidence.SourceGHArchive, QueriedAt: when},
		},
		EventType: evidence.KindPush,
		Ref:       "refs/heads/main",
		AfterSHA:  "bbb",
	}
	require.NoError(t, ev.Validate())
	return ev
}

const shaA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const shaB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestAdd_Idempotent(t *testing.T) {
	s := New()
	obs := commitObs(t, shaA, false)
	assert.True(t, s.Add(obs))
	assert.False(t, s.Add(obs), "same record again changes nothing")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains(obs.ID()))
}

func TestAdd_RicherRecordWins(t *testing.T) {
	s := New()
	sparse := commitObs(t, shaA, false)
	rich := commitObs(t, shaA, true)
	require.Equal(t, sparse.ID(), rich.ID())

	require.True(t, s.Add(rich))
	assert.False(t, s.Add(sparse), "a sparser duplicate never downgrades")

	got, ok := s.Get(rich.ID())
	require.True(t, ok)
	assert.NotEmpty(t, got.(*evidence.CommitObservation).Files)

	// The other direction upgrades in place.
	s2 := New()
	require.True(t, s2.Add(sparse))
	require.True(t, s2.Add(rich))
	got, _ = s2.Get(rich.ID())
	assert.NotEmpty(t, got.(*evidence.CommitObservation).Files)
	assert.Equal(t, 1, s2.Len())
}

func TestAdd_RejectsInvalid(t *testing.T) {
	s := New()
	bad := commitObs(t, shaA, false)
	bad.SHA = "not-a-sha"
	assert.False(t, s.Add(bad))
	assert.Equal(t, 0, s.Len())
}

func TestAdd_PreservesInsertionOrder(t *testing.T) {
	s := New()
	first := commitObs(t, shaA, false)
	second := commitObs(t, shaB, false)
	s.Add(first)
	s.Add(second)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID(), all[0].ID())
	assert.Equal(t, second.ID(), all[1].ID())
}

func TestFilter_Conjunctive(t *testing.T) {
	s := New()
	s.Add(commitObs(t, shaA, false))
	s.Add(pushEvent(t, "mallory", baseTime))
	s.Add(pushEvent(t, "alice", baseTime.Add(2*time.Hour)))

	byKind := s.FilterSlice(Filter{Kind: evidence.KindPush})
	assert.Len(t, byKind, 2)

	byActor := s.FilterSlice(Filter{Kind: evidence.KindPush, Actor: "mallory"})
	require.Len(t, byActor, 1)
	assert.Equal(t, "mallory", byActor[0].Actor().Login)

	byWindow := s.FilterSlice(Filter{After: baseTime.Add(time.Hour), Before: baseTime.Add(3 * time.Hour)})
	require.Len(t, byWindow, 1)
	assert.Equal(t, "alice", byWindow[0].Actor().Login)

	events := s.FilterSlice(Filter{EventsOnly: true})
	assert.Len(t, events, 2)
	observations := s.FilterSlice(Filter{ObservationsOnly: true})
	assert.Len(t, observations, 1)

	none := s.FilterSlice(Filter{Kind: evidence.KindPush, Actor: "nobody"})
	assert.Empty(t, none)
}

func TestFilter_TimeBoundsExclusive(t *testing.T) {
	s := New()
	s.Add(pushEvent(t, "atbound", baseTime))
	s.Add(pushEvent(t, "inside", baseTime.Add(time.Hour)))
	s.Add(pushEvent(t, "atend", baseTime.Add(2*time.Hour)))

	// Both bounds are exclusive, so events stamped exactly at either end
	// fall outside the window.
	window := s.FilterSlice(Filter{After: baseTime, Before: baseTime.Add(2 * time.Hour)})
	require.Len(t, window, 1)
	assert.Equal(t, "inside", window[0].Actor().Login)
}

func TestFilter_LazyStopsEarly(t *testing.T) {
	s := New()
	s.Add(pushEvent(t, "mallory", baseTime))
	s.Add(pushEvent(t, "mallory", baseTime.Add(time.Minute)))

	n := 0
	for range s.Filter(Filter{Kind: evidence.KindPush}) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestOnAddHook(t *testing.T) {
	s := New()
	var seen []string
	s.OnAdd(func(ev evidence.Evidence) { seen = append(seen, ev.ID()) })

	obs := commitObs(t, shaA, false)
	s.Add(obs)
	s.Add(obs) // no change, no hook
	require.Len(t, seen, 1)
	assert.Equal(t, obs.ID(), seen[0])
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := New()
	s.Add(commitObs(t, shaA, true))
	s.Add(pushEvent(t, "mallory", baseTime))

	path := filepath.Join(t.TempDir(), "evidence.json")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, s.Len(), loaded.Len())

	want, _ := s.Get(evidence.ComputeID(evidence.KindCommit, "octo/repo", shaA))
	got, ok := loaded.Get(want.ID())
	require.True(t, ok)
	assert.Equal(t, want, got, "round trip reproduces the record field for field")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestSignedRoundTrip(t *testing.T) {
	signer, err := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	s := New()
	s.Add(commitObs(t, shaA, false))
	path := filepath.Join(t.TempDir(), "evidence.signed.json")
	require.NoError(t, s.SaveSigned(path, signer))

	loaded, err := LoadSigned(path, signer)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())

	other, err := NewSigner([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, err = LoadSigned(path, other)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestSummary(t *testing.T) {
	s := New()
	deleted := commitObs(t, shaA, false)
	deleted.IsDeleted = true
	deleted.ObservedBy = evidence.SourceGHArchive
	deleted.Verification.Source = evidence.SourceGHArchive
	s.Add(deleted)
	s.Add(pushEvent(t, "mallory", baseTime.Add(time.Hour)))

	sum := s.Summary()
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Events)
	assert.Equal(t, 1, sum.Observations)
	assert.Equal(t, 1, sum.Deleted)
	assert.Equal(t, 1, sum.ByKind[evidence.KindCommit])
	assert.Equal(t, 2, sum.BySource[evidence.SourceGHArchive])
	require.NotNil(t, sum.Earliest)
	assert.Equal(t, baseTime, *sum.Earliest)
	assert.Contains(t, sum.String(), "2 item(s)")
}
