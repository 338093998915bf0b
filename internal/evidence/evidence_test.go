package evidence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrowsec/ghtrail/internal/source"
)

func TestComputeID_Deterministic(t *testing.T) {
	a := ComputeID("commit", "octo/repo", "abc123")
	b := ComputeID("commit", "octo/repo", "abc123")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "commit-"))

	c := ComputeID("commit", "octo/repo", "abc124")
	assert.NotEqual(t, a, c)

	d := ComputeID("issue", "octo/repo", "abc123")
	assert.NotEqual(t, a, d)
}

func testCommit(t *testing.T) *CommitObservation {
	t.Helper()
	orig := NormTime(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	return &CommitObservation{
		ObservationBase: ObservationBase{
			EvidenceID:   ComputeID(KindCommit, "octo/repo", strings.Repeat("a", 40)),
			OriginalWhen: &orig,
			OriginalWho:  &Actor{Login: "mallory"},
			OriginalWhat: "add build script",
			ObservedWhen: NormTime(time.Date(2024, 3, 12, 9, 30, 0, 0, time.UTC)),
			ObservedBy:   SourceGitHub,
			ObservedWhat: "Commit aaaaaaaa observed via GitHub API",
			Repository:   NewRepository("octo", "repo"),
			Verification: Verification{
				Source:    SourceGitHub,
				URL:       "https://github.com/octo/repo/commit/" + strings.Repeat("a", 40),
				QueriedAt: NormTime(time.Now()),
			},
		},
		ObservationType: KindCommit,
		SHA:             strings.Repeat("a", 40),
		Message:         "add build script\n\nsigned-off",
		Author:          CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: orig},
		Committer:       CommitAuthor{Name: "Mallory", Email: "m@example.com", Date: orig},
		Parents:         []string{strings.Repeat("b", 40)},
	}
}

func TestValidate_EventRequiresActor(t *testing.T) {
	ev := &PushEvent{
		EventBase: EventBase{
			EvidenceID:   ComputeID(KindPush, "octo/repo", "1"),
			When:         NormTime(time.Now()),
			What:         "pushed 1 commit",
			Verification: Verification{Source: SourceGHArchive, QueriedAt: NormTime(time.Now())},
		},
		EventType: KindPush,
		Ref:       "refs/heads/main",
	}
	err := ev.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor")

	ev.Who = Actor{Login: "octocat"}
	require.NoError(t, ev.Validate())
}

func TestValidate_EventSourceMustBeAuthoritative(t *testing.T) {
	ev := &WatchEvent{
		EventBase: EventBase{
			EvidenceID:   "watch-0000",
			When:         NormTime(time.Now()),
			Who:          Actor{Login: "octocat"},
			What:         "starred",
			Verification: Verification{Source: SourceGitHub, QueriedAt: NormTime(time.Now())},
		},
		EventType: KindWatch,
	}
	err := ev.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authoritative")
}

func TestValidate_ObservedBeforeOriginal(t *testing.T) {
	obs := testCommit(t)
	late := NormTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	obs.OriginalWhen = &late
	err := obs.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precedes")
}

func TestValidate_CommitSHA(t *testing.T) {
	obs := testCommit(t)
	obs.SHA = "notasha"
	require.Error(t, obs.Validate())
}

func TestJSONRoundTrip(t *testing.T) {
	orig := testCommit(t)
	require.NoError(t, orig.Validate())

	data, err := Marshal(orig)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestJSONRoundTrip_Event(t *testing.T) {
	ev := &PushEvent{
		EventBase: EventBase{
			EvidenceID: ComputeID(KindPush, "octo/repo", "refs/heads/main", "2024-03-10T08:00:00Z"),
			When:       NormTime(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)),
			Who:        Actor{Login: "mallory", ID: 42},
			What:       "pushed 2 commits to refs/heads/main",
			Repository: NewRepository("octo", "repo"),
			Verification: Verification{
				Source:        SourceGHArchive,
				BigQueryTable: "githubarchive.day.20240310",
				Query:         "repo=octo/repo type=PushEvent from=2024-03-10T07:30:00Z to=2024-03-10T08:30:00Z",
				QueriedAt:     NormTime(time.Now()),
			},
		},
		EventType: KindPush,
		Ref:       "refs/heads/main",
		BeforeSHA: strings.Repeat("1", 40),
		AfterSHA:  strings.Repeat("2", 40),
		Size:      2,
		Commits: []CommitInPush{
			{SHA: strings.Repeat("2", 40), Message: "wip", AuthorName: "Mallory", AuthorEmail: "m@example.com"},
		},
	}
	require.NoError(t, ev.Validate())

	data, err := Marshal(ev)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.True(t, IsEvent(got))
}

func TestUnmarshal_UnknownDiscriminator(t *testing.T) {
	_, err := Unmarshal([]byte(`{"observation_type":"hologram","evidence_id":"x"}`))
	var schemaErr *source.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "hologram", schemaErr.Discriminator)

	_, err = Unmarshal([]byte(`{"evidence_id":"x"}`))
	require.True(t, errors.As(err, &schemaErr))
}

func TestUnmarshal_RejectsInvalid(t *testing.T) {
	// A push event missing its actor must not survive deserialization.
	_, err := Unmarshal([]byte(`{
		"event_type": "push",
		"evidence_id": "push-deadbeef",
		"when": "2024-03-10T08:00:00Z",
		"what": "pushed",
		"ref": "refs/heads/main",
		"verification": {"source": "gharchive", "queried_at": "2024-03-10T08:05:00Z"}
	}`))
	var schemaErr *source.SchemaError
	require.True(t, errors.As(err, &schemaErr))
}
